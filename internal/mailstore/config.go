package mailstore

// Config is the explicit, once-constructed configuration record design
// note §9 calls for, replacing the original's process-global flags. It is
// threaded through every operation that needs one of these settings
// instead of being read from ambient globals.
type Config struct {
	CheckNew       bool
	MaildirTrash   bool
	MHPurge        bool
	HeaderCacheVerify bool
	FlagSafe       bool
	MarkOld        bool

	// SaveEmpty mirrors neomutt's $save_empty: when false, the compressed
	// wrapper (§4.J) removes the realpath archive entirely on Close if
	// the mailbox ended up with no messages.
	SaveEmpty bool

	// SortOrder controls §4.E step 3 ("natural" vs anything else) and is
	// passed to the SortBy collaborator during open/check.
	SortOrder string

	// SequenceNames are the three user-configurable MH sequence names
	// (spec §4.B); unknown names are always preserved regardless of
	// what these are set to.
	SequenceNames SequenceNames
}

// SequenceNames names the three sequences the engine understands.
type SequenceNames struct {
	Unseen  string
	Flagged string
	Replied string
}

// DefaultConfig matches neomutt's historical defaults.
func DefaultConfig() Config {
	return Config{
		CheckNew:          true,
		MaildirTrash:      false,
		MHPurge:           false,
		HeaderCacheVerify: true,
		FlagSafe:          false,
		MarkOld:           true,
		SaveEmpty:         true,
		SortOrder:         "natural",
		SequenceNames: SequenceNames{
			Unseen:  "unseen",
			Flagged: "flagged",
			Replied: "replied",
		},
	}
}
