package chat

import "context"

// StaticDirectory is a TribeDirectory over fixed sets, for deployments
// whose tribe roles are managed in configuration.
type StaticDirectory struct {
	// Captains maps tribe ID to its captain's user ID.
	Captains   map[string]string
	Moderators map[string]bool
}

// NewStaticDirectory builds a directory from a captain map and a moderator list.
func NewStaticDirectory(captains map[string]string, moderators []string) StaticDirectory {
	d := StaticDirectory{Captains: captains, Moderators: make(map[string]bool, len(moderators))}
	for _, m := range moderators {
		d.Moderators[m] = true
	}
	return d
}

// IsCaptain implements TribeDirectory.
func (d StaticDirectory) IsCaptain(ctx context.Context, tribeID, userID string) (bool, error) {
	c, ok := d.Captains[tribeID]
	return ok && c == userID, nil
}

// IsModerator implements TribeDirectory.
func (d StaticDirectory) IsModerator(ctx context.Context, userID string) (bool, error) {
	return d.Moderators[userID], nil
}
