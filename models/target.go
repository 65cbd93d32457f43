package models

// Target describes the single host this tool provisions.
//
// A fresh host is reached on Port (usually 22). The hardening stage moves
// the SSH daemon to HardenedPort, so every later stage, and every run after
// the first, connects there instead.
type Target struct {
	// Name is the logical host name used in reports and logs
	Name string `json:"name"`

	// Address is the IP address or DNS name of the host
	Address string `json:"address"`

	// User is the SSH login user
	User string `json:"user"`

	// Port is the SSH port of an unprovisioned host
	Port int `json:"port"`

	// HardenedPort is the SSH port after the hardening stage has run
	HardenedPort int `json:"hardened_port"`

	// Subnet is the trusted LAN CIDR admin interfaces are restricted to
	Subnet string `json:"subnet"`
}

// ServiceState is the observed state of one deployed service container,
// as reported by the verification checks and the status API.
type ServiceState struct {
	// Name is the logical service name (proxy, grafana, uptime-kuma, samba, photoprism)
	Name string `json:"name"`

	// ContainerID is the Docker container ID, when the container exists
	ContainerID string `json:"container_id,omitempty"`

	// Image is the container image reference
	Image string `json:"image"`

	// Status is the observed container status (running, exited, missing)
	Status string `json:"status"`
}
