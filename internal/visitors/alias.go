// Package visitors derives display names for visitor sessions.
package visitors

import "hash/fnv"

var adjectives = []string{
	"Curious", "Happy", "Clever", "Wise", "Playful", "Brave", "Swift", "Gentle", "Busy", "Bold",
	"Daring", "Lively", "Vibrant", "Agile", "Nimble", "Speedy", "Bright", "Radiant", "Cheerful", "Jolly",
	"Creative", "Inventive", "Elegant", "Graceful", "Friendly", "Kind", "Cordial", "Magical", "Calm", "Serene",
	"Quiet", "Relaxed", "Sunny", "Witty", "Humble", "Loyal", "Mellow", "Patient", "Quirky", "Zesty",
}

var animals = []string{
	"Panda", "Fox", "Owl", "Otter", "Lion", "Eagle", "Deer", "Raven", "Beaver", "Koala",
	"Sloth", "Hamster", "Bear", "Penguin", "Kangaroo", "Parrot", "Giraffe", "Raccoon", "Meerkat", "Llama",
	"Hedgehog", "Tiger", "Wolf", "Falcon", "Dolphin", "Whale", "Seahorse", "Turtle", "Octopus", "Walrus",
	"Crab", "Heron", "Swan", "Finch", "Sparrow", "Badger", "Lynx", "Bison", "Gecko", "Yak",
}

// Alias returns a stable "Adjective Animal" name for a session id, so
// listings can tell visitors apart without showing identifiers.
func Alias(sessionID string) string {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	sum := int(h.Sum32())

	return adjectives[sum%len(adjectives)] + " " + animals[(sum/len(adjectives))%len(animals)]
}
