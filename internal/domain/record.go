package domain

const (
	// DateLayout is the MM/DD/YYYY grammar accepted for grant and expiration dates.
	DateLayout = "01/02/2006"
	// NoExpiration marks a certificate that never expires.
	NoExpiration = "1"
)

// CandidateRecord is one spreadsheet row of a batch submission.
type CandidateRecord struct {
	// Row is the 1-based position of the record in the submission.
	Row            int               `json:"row"`
	Identifier     string            `json:"identifier"`
	HolderName     string            `json:"holderName"`
	DocumentLabel  string            `json:"documentLabel"`
	GrantDate      string            `json:"grantDate,omitempty"`
	ExpirationDate string            `json:"expirationDate,omitempty"`
	CustomFields   map[string]string `json:"customFields,omitempty"`
}

// NumberRows assigns 1-based row numbers to records that do not carry one yet.
func NumberRows(records []CandidateRecord) {
	for i := range records {
		if records[i].Row <= 0 {
			records[i].Row = i + 1
		}
	}
}
