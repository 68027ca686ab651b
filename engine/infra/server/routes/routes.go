package routes

// Version is the API version used in routing.
const Version = "v0"

// Base returns the versioned API base path (e.g., "/api/v0").
func Base() string {
	return "/api/" + Version
}

// Tasks returns the tasks base path (e.g., "/api/v0/tasks").
func Tasks() string {
	return Base() + "/tasks"
}

// SharedTasks returns the public share base path (e.g., "/api/v0/share/tasks").
func SharedTasks() string {
	return Base() + "/share/tasks"
}

// Health is the unversioned liveness path.
func Health() string {
	return "/healthz"
}
