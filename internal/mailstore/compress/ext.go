package compress

import "strings"

// CommandsForFile returns the open/close shell templates conventionally
// used for a compressed-mailbox file name, the way neomutt ships default
// hooks for .gz/.bz2/.xz mailboxes (spec §4.J example: "gzip -cd '%f' >
// '%t'" / "gzip -c '%t' > '%f'"). Since this engine's underlying formats
// (Maildir, MH) are directories rather than the single-file mbox/mmdf
// formats neomutt wraps, the plaintext side of these templates is a tar
// archive of that directory rather than a bare stream. Matching is by
// suffix rather than filepath.Ext, since the recognised extensions
// (".tar.gz", ...) contain more than one dot. Append is left empty for
// all of them: none of these tools support appending into an existing
// compressed member cheaply, so Close falls back to the full Close
// template per spec §4.J.
func CommandsForFile(name string) (Commands, bool) {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return Commands{
			Open:  "mkdir -p '%t' && tar -xzf '%f' -C '%t'",
			Close: "tar -czf '%f' -C '%t' .",
		}, true
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return Commands{
			Open:  "mkdir -p '%t' && tar -xjf '%f' -C '%t'",
			Close: "tar -cjf '%f' -C '%t' .",
		}, true
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return Commands{
			Open:  "mkdir -p '%t' && tar -xJf '%f' -C '%t'",
			Close: "tar -cJf '%f' -C '%t' .",
		}, true
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return Commands{
			Open:  "mkdir -p '%t' && tar --zstd -xf '%f' -C '%t'",
			Close: "tar --zstd -cf '%f' -C '%t' .",
		}, true
	default:
		return Commands{}, false
	}
}
