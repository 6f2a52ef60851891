package topic

// Topic segments on the local broker. These are the contract between the
// bridge and everything that consumes its output; changing them breaks
// existing subscribers.
const (
	// SuffixRaw carries byte-identical copies of vendor messages.
	// Structure: {prefix}raw{rest-of-vendor-topic}
	SuffixRaw = "raw"

	// SuffixVehicles carries one message per vehicle property.
	// Structure: {prefix}vehicles/{vin}/{property}
	SuffixVehicles = "vehicles"

	// SuffixStatus carries the retained bridge connectivity document.
	// Structure: {prefix}status
	SuffixStatus = "status"
)

// Builder constructs the local topic strings under a fixed prefix. The
// prefix is expected to end with "/" (configuration loading enforces it),
// so segments concatenate directly.
type Builder struct {
	prefix string
}

// NewBuilder returns a Builder rooted at prefix.
func NewBuilder(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// Status returns the retained status topic.
func (b *Builder) Status() string {
	return b.prefix + SuffixStatus
}

// Raw maps a vendor topic onto its local mirror. rest is the vendor topic
// from its first "/" onward, or empty when the vendor topic has no
// separator at all; either way the account id has been elided.
func (b *Builder) Raw(rest string) string {
	return b.prefix + SuffixRaw + rest
}

// VehicleProperty returns the fan-out topic for one property of one vehicle.
func (b *Builder) VehicleProperty(vin, property string) string {
	return b.prefix + SuffixVehicles + "/" + vin + "/" + property
}

// VehicleWildcard returns the filter matching every fanned-out property of
// every vehicle.
func (b *Builder) VehicleWildcard() string {
	return b.prefix + SuffixVehicles + "/" + Wildcard + "/" + MultiWildcard
}

// AllWildcard returns the filter matching everything the bridge publishes.
func (b *Builder) AllWildcard() string {
	return b.prefix + MultiWildcard
}

// VendorStream returns the vendor-side subscription filter for an account.
// The vendor publishes one topic level below the account id, one level per
// vehicle.
func VendorStream(accountID string) string {
	return accountID + "/" + Wildcard
}
