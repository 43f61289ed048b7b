// Package identity generates the local display name advertised to nearby peers.
package identity

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var adjectives = []string{
	"Amber", "Bold", "Brisk", "Calm", "Clever", "Cosmic", "Crimson", "Daring",
	"Eager", "Fancy", "Gentle", "Golden", "Happy", "Hidden", "Jolly", "Lucky",
	"Mellow", "Misty", "Nimble", "Quiet", "Rapid", "Silent", "Sunny", "Swift",
	"Tiny", "Velvet", "Vivid", "Witty",
}

var animals = []string{
	"Badger", "Beaver", "Camel", "Cobra", "Dingo", "Falcon", "Ferret", "Gecko",
	"Heron", "Ibex", "Jaguar", "Koala", "Lemur", "Lynx", "Marmot", "Narwhal",
	"Otter", "Panda", "Puffin", "Quokka", "Raven", "Salmon", "Tapir", "Toucan",
	"Walrus", "Wombat", "Yak", "Zebra",
}

// Identity is the local endpoint name. It is fixed for the lifetime of the process.
type Identity struct {
	name string
}

// New returns an Identity with the given name, or a generated code name when name is blank.
func New(name string) Identity {
	name = strings.TrimSpace(name)
	if name == "" {
		name = Codename()
	}
	return Identity{name: name}
}

func (i Identity) Name() string {
	return i.name
}

func (i Identity) String() string {
	return i.name
}

// Codename returns a random "Adjective Animal" name such as "Swift Otter".
func Codename() string {
	return pick(adjectives) + " " + pick(animals)
}

func pick(words []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return words[0]
	}
	return words[n.Int64()]
}
