package api

// ErrMissingDependency is returned by New when a required collaborator is nil.
type ErrMissingDependency struct {
	Name string
}

func (e ErrMissingDependency) Error() string {
	return "api: missing " + e.Name
}
