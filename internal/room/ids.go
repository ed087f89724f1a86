package room

import (
	"math/rand"
	"strconv"
)

const (
	minRoomID = 100000
	maxRoomID = 999999
)

// IDGenerator produces candidate room IDs. Candidates may repeat; the
// coordinator retries until it finds one that is not live.
type IDGenerator func() ID

// RandomID returns a uniformly random six-digit room ID.
func RandomID() ID {
	return ID(strconv.Itoa(minRoomID + rand.Intn(maxRoomID-minRoomID+1)))
}
