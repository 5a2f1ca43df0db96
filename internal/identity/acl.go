package identity

// Role is a repo-scoped permission level, checked against a Repo's Owner,
// Readers, and Publishers lists (spec.md §3, §6 "/repos/:r/members").
type Role string

const (
	RoleReader    Role = "reader"
	RolePublisher Role = "publisher"
	RoleOwner     Role = "owner"
)

// CanRead reports whether handle may read a repo with the given owner,
// readers, and publishers (publishers and the owner can always read).
func CanRead(handle, owner string, readers, publishers []string) bool {
	if handle == owner {
		return true
	}
	return contains(readers, handle) || contains(publishers, handle)
}

// CanPublish reports whether handle may publish into a repo (owner or
// listed publisher).
func CanPublish(handle, owner string, publishers []string) bool {
	return handle == owner || contains(publishers, handle)
}

// CanAdminister reports whether handle may manage repo membership and the
// gate graph (owner only; admin status is not considered here, and the
// member and gate-graph handlers add no admin bypass of their own).
func CanAdminister(handle, owner string) bool {
	return handle == owner
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
