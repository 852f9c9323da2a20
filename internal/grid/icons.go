package grid

import (
	"math/rand/v2"
	"slices"
)

// Icons is the set of icon names a track or common event may carry.
var Icons = []string{
	"coffee", "lemon", "carrot", "seedling", "leaf", "hippo", "fish", "crow",
	"frog", "dog", "cat", "horse", "sun", "moon", "star", "users", "brain",
	"newspaper", "cheese", "chess", "cookie", "couch", "car", "compass", "fire",
	"pizza-slice", "beer-mug-empty", "comment", "server", "face-surprise",
}

const (
	DefaultCommonEventIcon    = "coffee"
	DefaultCommonEventSummary = "Break"
)

func RandomIcon() string {
	return Icons[rand.IntN(len(Icons))]
}

func KnownIcon(name string) bool {
	return slices.Contains(Icons, name)
}
