package room

import "codementor/pkg/types"

// Occupancy is the part of room state a RolePolicy may look at.
type Occupancy struct {
	Members       int
	MentorPresent bool
}

// RolePolicy decides the role of a connection joining a room. It is only
// consulted inside Registry.Join, with the room locked.
type RolePolicy interface {
	Assign(o Occupancy) types.Role
}

// FirstJoinerMentor makes the first connection in an empty room the mentor
// and everyone after it a student.
type FirstJoinerMentor struct{}

func (FirstJoinerMentor) Assign(o Occupancy) types.Role {
	if o.Members == 0 && !o.MentorPresent {
		return types.RoleMentor
	}
	return types.RoleStudent
}
