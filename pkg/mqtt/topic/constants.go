package topic

// Standard MQTT wildcard definitions.
const (
	// Wildcard is the single-level wildcard "+".
	// It matches exactly one topic level.
	// Example: "bmw/vehicles/+/soc" matches any vehicle's soc property.
	Wildcard = "+"

	// MultiWildcard is the multi-level wildcard "#".
	// It matches the current level and all subsequent levels and must be
	// the last character in the topic filter.
	// Example: "bmw/raw/#" matches every mirrored vendor message.
	MultiWildcard = "#"
)
