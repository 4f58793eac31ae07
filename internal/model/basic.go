package model

// MigrationSystem is the coding system on the Basic resource tracking the
// latest applied migration.
const MigrationSystem = "https://caringcontacts.app/migration"

// Basic is the FHIR catch-all resource; this service uses one instance as
// the persisted migration pointer.
type Basic struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id,omitempty"`
	Code         *CodeableConcept `json:"code,omitempty"`
	Created      string           `json:"created,omitempty"`
}

// MigrationCode returns the recorded migration id, or "".
func (b *Basic) MigrationCode() string {
	if b.Code == nil {
		return ""
	}
	for _, c := range b.Code.Coding {
		if c.System == MigrationSystem {
			return c.Code
		}
	}
	return ""
}

// SetMigrationCode replaces the recorded migration id.
func (b *Basic) SetMigrationCode(id string) {
	b.Code = &CodeableConcept{Coding: []Coding{{System: MigrationSystem, Code: id}}}
}
