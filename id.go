package requeuest

import "github.com/famedly/requeuest/id"

// ID is the primary identifier type for all requeuest entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
