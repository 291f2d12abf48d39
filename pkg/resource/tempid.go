package resource

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

const tempIDPrefix = "tmp-"

// TempID synthesizes a client-side placeholder identifier for a record
// the server has not confirmed yet. Time plus randomness keeps rapid
// consecutive creates distinct.
func TempID() string {
	return fmt.Sprintf("%s%d-%08x", tempIDPrefix, time.Now().UnixMilli(), rand.Uint32())
}

// IsTempID reports whether id is a client-synthesized placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}
