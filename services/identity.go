package services

import "fmt"

// Identity names the person a face operation should target. It is either
// a reference to an existing person by id, or a (possibly new) person by
// name. Exactly one of the two forms is set.
type Identity struct {
	id     uint
	name   string
	byName bool
}

// IdentityByID targets an existing person row.
func IdentityByID(id uint) Identity {
	return Identity{id: id}
}

// IdentityByName targets the person with the given name, creating one if
// no active person matches after normalization.
func IdentityByName(name string) Identity {
	return Identity{name: name, byName: true}
}

func (i Identity) String() string {
	if i.byName {
		return fmt.Sprintf("name:%q", i.name)
	}
	return fmt.Sprintf("id:%d", i.id)
}
