package syncschema

// StandardCollections lists the well-known collection names whose ids are
// pre-seeded starting at 1, so that the same name maps to the same id on
// every deployment regardless of write order. Ids 1..len(StandardCollections)
// are reserved; the auto-increment sequence for newly-discovered names must
// start above this range.
var StandardCollections = []string{
	"clients",
	"crypto",
	"forms",
	"history",
	"keys",
	"meta",
	"bookmarks",
	"prefs",
	"tabs",
	"passwords",
	"addons",
	"addresses",
	"creditcards",
}

// ReservedCollectionIDFloor is the first collectionid available for
// dynamically discovered collection names.
const ReservedCollectionIDFloor = 100

// CachedCollections are the hot, small collections the cache overlay
// intercepts before they reach SQL.
const (
	CollectionMetaGlobal = "meta"
	CollectionTabs       = "tabs"
)

// Collection is a (user, name) pair with its last-modified stamp. Not all
// operations need the id; callers that only need identity comparisons use
// the name.
type Collection struct {
	ID           int
	Name         string
	LastModified int64 // server ms
}

// Batch is a transient staging record for a bulk upload.
type Batch struct {
	ID         int64
	UserID     int64
	Collection string
	CreatedAt  int64 // server ms, used for the 2h sweep
}

// BatchTTL is how long an uncommitted batch is allowed to live before the
// background sweep reclaims it.
const BatchTTLSeconds = 2 * 60 * 60
