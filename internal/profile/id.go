package profile

import (
	"github.com/nrednav/cuid2"
)

// NewID generates a profile ID. IDs are issued once and never rewritten.
var NewID func() string

func init() {
	var err error
	NewID, err = cuid2.Init(
		cuid2.WithLength(24),
	)
	if err != nil {
		panic(err)
	}
}
