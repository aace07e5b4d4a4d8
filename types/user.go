package types

// Principal is the authenticated caller of an on-demand request.
type Principal struct {
	UserID string
}

// UserProfile is a registered user as seen by this service (read-only).
type UserProfile struct {
	ID           string `firestore:"-" json:"id" yaml:"id"`
	DisplayName  string `firestore:"name" json:"displayName" yaml:"name"`
	PasswordHash string `firestore:"passwordHash" json:"-" yaml:"passwordHash"`
}

// MedicalProfile carries the enrichment-relevant medical attributes of a
// user. Every field is optional.
type MedicalProfile struct {
	UserID    string `firestore:"userId" json:"userId" yaml:"-"`
	Age       *int   `firestore:"age" json:"age,omitempty" yaml:"age"`
	BloodType string `firestore:"bloodType" json:"bloodType,omitempty" yaml:"bloodType"`
	Allergies string `firestore:"allergies" json:"allergies,omitempty" yaml:"allergies"`
}
