package types

import "fmt"

// EntityType names a kind of record the engine synchronizes. The string value
// doubles as the remote REST collection name (/api/{entityType}).
type EntityType string

// Entity types.
const (
	EntityProducts     EntityType = "products"
	EntityCategories   EntityType = "categories"
	EntityTransactions EntityType = "transactions"
	EntityUsers        EntityType = "users"
	EntitySettings     EntityType = "settings"
	EntitySubscription EntityType = "subscription"
)

// Local collection names. Transactions are stored locally as "sales".
const (
	CollectionProducts          = "products"
	CollectionCategories        = "categories"
	CollectionSales             = "sales"
	CollectionUsers             = "users"
	CollectionSettings          = "settings"
	CollectionSubscription      = "subscription"
	CollectionPendingOperations = "pendingOperations"
)

// LocalCollections lists every record collection held by the LocalStore.
var LocalCollections = []string{
	CollectionProducts,
	CollectionCategories,
	CollectionSales,
	CollectionUsers,
	CollectionSettings,
	CollectionSubscription,
}

// SyncableEntityTypes lists the entity types replayed against the remote
// authority, in the order a full sync visits them. Categories go before
// products and products before transactions so that referenced records
// reach the server first.
var SyncableEntityTypes = []EntityType{
	EntityCategories,
	EntityProducts,
	EntityUsers,
	EntitySettings,
	EntityTransactions,
}

var entityCollections = map[EntityType]string{
	EntityProducts:     CollectionProducts,
	EntityCategories:   CollectionCategories,
	EntityTransactions: CollectionSales,
	EntityUsers:        CollectionUsers,
	EntitySettings:     CollectionSettings,
	EntitySubscription: CollectionSubscription,
}

// Collection returns the LocalStore collection backing the entity type.
func (e EntityType) Collection() string {
	return entityCollections[e]
}

// Endpoint returns the remote collection path segment.
func (e EntityType) Endpoint() string {
	return string(e)
}

// Syncable reports whether records of this type are replayed remotely.
// The subscription collection is a local cache only.
func (e EntityType) Syncable() bool {
	return e != EntitySubscription && e.Valid()
}

// Valid reports whether e is a known entity type.
func (e EntityType) Valid() bool {
	_, ok := entityCollections[e]
	return ok
}

// ParseEntityType accepts either an entity type or a local collection name
// ("sales" resolves to transactions).
func ParseEntityType(name string) (EntityType, error) {
	if et := EntityType(name); et.Valid() {
		return et, nil
	}
	for et, coll := range entityCollections {
		if coll == name {
			return et, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCollection, name)
}
