package keys

const (
	// notation dictionary for key formats:
	// db  = database marker
	// doc = document body (live or tombstone)
	// vr  = view row
	// vb  = view back-reference (rows a document emitted into one design doc)
	// ts  = tombstone marker, ordered by deletion time
	// All prefixes are lowercase; segments are separated by ":"
	// <...> = variable segment

	DatabaseKey    = "db:%s"        // db:<db>
	DatabasePrefix = "db:"          // db:
	DocumentKey    = "doc:%s:%s"    // doc:<db>:<doc_id>
	DocumentPrefix = "doc:%s:"      // doc:<db>:
	ViewRowPrefix  = "vr:%s:%s:%s:" // vr:<db>:<ddoc>:<view>:<collated_key><doc_id>
	ViewDesignPfx  = "vr:%s:%s:"    // vr:<db>:<ddoc>:
	ViewBackref    = "vb:%s:%s:%s"  // vb:<db>:<ddoc>:<doc_id>
	ViewBackrefPfx = "vb:%s:%s:"    // vb:<db>:<ddoc>:
	TombstoneKey   = "ts:%s:%s:%s"  // ts:<db>:<deleted_at>:<doc_id>
	TombstonePfx   = "ts:%s:"       // ts:<db>:

	// padding widths (fixed for lexicographic ordering)
	TSPadWidth = 20 // e.g. %020d

	// system keys
	SystemVersionKey = "system:version"
	SystemVersion    = "1"
)
