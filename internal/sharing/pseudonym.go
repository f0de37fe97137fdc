package sharing

import (
	"fmt"
	"hash/fnv"
)

var adjectives = []string{
	"Happy", "Lucky", "Swift", "Bright", "Cool", "Smart", "Brave", "Quick",
	"Calm", "Bold", "Wise", "Silent", "Sharp", "Gentle", "Noble", "Wild",
}

var nouns = []string{
	"Panda", "Tiger", "Eagle", "Falcon", "Wolf", "Bear", "Fox", "Hawk",
	"Lion", "Otter", "Raven", "Lynx", "Deer", "Owl", "Cobra", "Shark",
}

// Pseudonym gives a stable display name for userID so responders can be
// told apart without exposing who they are.
func Pseudonym(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	sum := h.Sum32()

	adj := adjectives[sum%uint32(len(adjectives))]
	noun := nouns[(sum/16)%uint32(len(nouns))]
	return fmt.Sprintf("%s%s%d", adj, noun, (sum/256)%10000)
}
