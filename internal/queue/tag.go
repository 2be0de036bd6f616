package queue

import (
	"fmt"
	"time"
)

// adjectives and nouns back the human-readable two-word tag minted
// alongside each job's id_hash.
var adjectives = []string{
	"amazing", "beautiful", "exciting", "fantastic", "hilarious", "incredible",
	"jubilant", "magnificent", "remarkable", "spectacular", "wonderful",
}

var nouns = []string{
	"apple", "banana", "cherry", "dolphin", "elephant", "giraffe", "hamburger",
	"iceberg", "jellyfish", "kangaroo", "lemur", "mango", "november", "octopus",
	"penguin", "quartz", "rainbow", "strawberry", "tornado", "unicorn",
	"volcano", "walrus", "xylophone", "yogurt", "zebra",
}

// generateTwoWordTag derives a deterministic adjective-noun pair from the
// job's creation instant rather than drawing from math/rand, so the tag is
// reproducible in tests without an injected RNG.
func generateTwoWordTag(at time.Time) string {
	n := at.UnixNano()
	adj := adjectives[n%int64(len(adjectives))]
	noun := nouns[(n/int64(len(adjectives)))%int64(len(nouns))]
	return fmt.Sprintf("%s-%s", adj, noun)
}
