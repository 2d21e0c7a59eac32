package capflow

// Card is the introspection view of a capability, safe to hand to an
// external agent's catalog. It carries identity, metadata, and feature
// flags only: handler bodies, schemas, and key functions are never
// serialized. That restriction is a security contract.
type Card struct {
	Name                 string   `json:"name"`
	Description          string   `json:"description,omitempty"`
	Tags                 []string `json:"tags,omitempty"`
	HasPrivilegedHandler bool     `json:"has_privileged_handler"`
	HasRestrictedHandler bool     `json:"has_restricted_handler"`
	HasView              bool     `json:"has_view"`
	HasStream            bool     `json:"has_stream"`
	HasCache             bool     `json:"has_cache"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
}

// Card returns the introspection view of the capability.
func (d *Definition) Card() Card {
	return Card{
		Name:                 d.name,
		Description:          d.description,
		Tags:                 d.Tags(),
		HasPrivilegedHandler: d.HasPrivilegedHandler(),
		HasRestrictedHandler: d.HasRestrictedHandler(),
		HasView:              d.HasView(),
		HasStream:            d.HasStream(),
		HasCache:             d.HasCache(),
		RequiresConfirmation: d.requiresConfirmation,
	}
}
