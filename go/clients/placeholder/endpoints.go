package placeholder

const (
	// Base URL
	BaseURL = "https://jsonplaceholder.typicode.com"

	// API Endpoints
	UsersEndpoint = "/users"
)
