package compress

import (
	"github.com/localbox/mailstore/internal/mailstore"
	"github.com/localbox/mailstore/internal/mailstore/maildirengine"
	"github.com/localbox/mailstore/internal/mailstore/mhengine"
	mdpath "github.com/localbox/mailstore/internal/mailstore/path"
)

// DefaultDelegate probes the decompressed plaintext directory's on-disk
// shape using spec §6's path_probe operation and opens the matching
// format engine. A freshly decompressed, still-empty directory matches
// neither probe and defaults to MH, the same fallback
// internal/storage/local uses for a brand-new account mailbox.
func DefaultDelegate(plaintextPath string, cfg mailstore.Config) mailstore.Engine {
	if mdpath.MaildirProbe(plaintextPath) {
		return maildirengine.New(plaintextPath, cfg)
	}
	return mhengine.New(plaintextPath, cfg)
}
