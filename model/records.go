package model

import "time"

// Purchase is a tracked item with its return and warranty windows.
type Purchase struct {
	ID             string    `json:"id"`
	UserID         string    `json:"-"`
	Merchant       string    `json:"merchant"`
	Item           string    `json:"item"`
	Category       string    `json:"category,omitempty"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	PurchasedOn    time.Time `json:"purchased_on"`
	ReturnDays     int       `json:"return_days,omitempty"`
	WarrantyMonths int       `json:"warranty_months,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReturnDeadline returns the last day a return is accepted, or zero if the
// purchase has no return window.
func (p Purchase) ReturnDeadline() time.Time {
	if p.ReturnDays <= 0 {
		return time.Time{}
	}
	return p.PurchasedOn.AddDate(0, 0, p.ReturnDays)
}

// WarrantyExpires returns the warranty end date, or zero if none.
func (p Purchase) WarrantyExpires() time.Time {
	if p.WarrantyMonths <= 0 {
		return time.Time{}
	}
	return p.PurchasedOn.AddDate(0, p.WarrantyMonths, 0)
}

type CaseKind string

const (
	CaseReturn    CaseKind = "return"
	CaseWarranty  CaseKind = "warranty"
	CaseRefund    CaseKind = "refund"
	CaseComplaint CaseKind = "complaint"
)

// Valid reports whether k is one of the known case kinds.
func (k CaseKind) Valid() bool {
	switch k {
	case CaseReturn, CaseWarranty, CaseRefund, CaseComplaint:
		return true
	}
	return false
}

// Case is an open claim against a purchase.
type Case struct {
	ID          string    `json:"id"`
	UserID      string    `json:"-"`
	PurchaseID  string    `json:"purchase_id,omitempty"`
	Kind        CaseKind  `json:"kind"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Document links an uploaded file to a purchase or case.
type Document struct {
	ID          string    `json:"id"`
	UserID      string    `json:"-"`
	PurchaseID  string    `json:"purchase_id,omitempty"`
	CaseID      string    `json:"case_id,omitempty"`
	StoragePath string    `json:"storage_path"`
	FileName    string    `json:"file_name"`
	FileType    string    `json:"file_type"`
	FileSize    int64     `json:"file_size"`
	CreatedAt   time.Time `json:"created_at"`
}
