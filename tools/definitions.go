package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"receiptly/model"
	"receiptly/storage"
)

const dateLayout = "2006-01-02"

type searchPurchasesInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (in *searchPurchasesInput) Validate() error {
	if in.Limit < 0 || in.Limit > 50 {
		return errors.New("limit must be between 1 and 50")
	}
	return nil
}

func (r *Registry) searchPurchases() handler {
	return tool[searchPurchasesInput]{
		def: mcptypes.NewTool(string(SearchPurchases),
			mcptypes.WithDescription("Search the user's purchases by merchant, item or category. An empty query lists the most recent purchases."),
			mcptypes.WithString("query", mcptypes.Description("Free text such as a store, product or category")),
			mcptypes.WithNumber("limit", mcptypes.Description("Maximum results, 1-50 (default 20)")),
		),
		fn: func(ctx context.Context, scope Scope, in searchPurchasesInput) (any, error) {
			list, err := r.domain.SearchPurchases(ctx, scope.UserID, in.Query, in.Limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"purchases": list, "count": len(list)}, nil
		},
	}
}

type getPurchaseInput struct {
	PurchaseID string `json:"purchase_id"`
}

func (in *getPurchaseInput) Validate() error {
	if strings.TrimSpace(in.PurchaseID) == "" {
		return errors.New("purchase_id is required")
	}
	return nil
}

func (r *Registry) getPurchase() handler {
	return tool[getPurchaseInput]{
		def: mcptypes.NewTool(string(GetPurchase),
			mcptypes.WithDescription("Get one purchase with its return deadline and warranty end date."),
			mcptypes.WithString("purchase_id", mcptypes.Required(), mcptypes.Description("Purchase id from search_purchases")),
		),
		fn: func(ctx context.Context, scope Scope, in getPurchaseInput) (any, error) {
			p, err := r.domain.GetPurchase(ctx, scope.UserID, in.PurchaseID)
			if err != nil {
				return nil, err
			}
			return purchaseView(*p), nil
		},
	}
}

type createPurchaseInput struct {
	Merchant       string  `json:"merchant"`
	Item           string  `json:"item"`
	Category       string  `json:"category"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	PurchaseDate   string  `json:"purchase_date"`
	ReturnDays     int     `json:"return_days"`
	WarrantyMonths int     `json:"warranty_months"`

	purchasedOn time.Time
}

func (in *createPurchaseInput) Validate() error {
	var errs []error
	if strings.TrimSpace(in.Merchant) == "" {
		errs = append(errs, errors.New("merchant must not be empty"))
	}
	if strings.TrimSpace(in.Item) == "" {
		errs = append(errs, errors.New("item must not be empty"))
	}
	if in.Amount < 0 {
		errs = append(errs, errors.New("amount must not be negative"))
	}
	if in.ReturnDays < 0 || in.ReturnDays > 365 {
		errs = append(errs, errors.New("return_days must be between 0 and 365"))
	}
	if in.WarrantyMonths < 0 || in.WarrantyMonths > 240 {
		errs = append(errs, errors.New("warranty_months must be between 0 and 240"))
	}
	if in.PurchaseDate != "" {
		t, err := time.Parse(dateLayout, in.PurchaseDate)
		if err != nil {
			errs = append(errs, fmt.Errorf("purchase_date must be YYYY-MM-DD, got %q", in.PurchaseDate))
		}
		in.purchasedOn = t
	}
	return errors.Join(errs...)
}

func (r *Registry) createPurchase() handler {
	return tool[createPurchaseInput]{
		def: mcptypes.NewTool(string(CreatePurchase),
			mcptypes.WithDescription("Record a new purchase, for example from an uploaded receipt."),
			mcptypes.WithString("merchant", mcptypes.Required(), mcptypes.Description("Store or seller")),
			mcptypes.WithString("item", mcptypes.Required(), mcptypes.Description("What was bought")),
			mcptypes.WithString("category", mcptypes.Description("Category such as Electronics or Groceries")),
			mcptypes.WithNumber("amount", mcptypes.Description("Total price")),
			mcptypes.WithString("currency", mcptypes.Description("ISO 4217 code, e.g. EUR")),
			mcptypes.WithString("purchase_date", mcptypes.Description("Date of purchase, YYYY-MM-DD (default today)")),
			mcptypes.WithNumber("return_days", mcptypes.Description("Length of the return window in days")),
			mcptypes.WithNumber("warranty_months", mcptypes.Description("Warranty length in months")),
		),
		fn: func(ctx context.Context, scope Scope, in createPurchaseInput) (any, error) {
			p, err := r.domain.CreatePurchase(ctx, model.Purchase{
				UserID:         scope.UserID,
				Merchant:       strings.TrimSpace(in.Merchant),
				Item:           strings.TrimSpace(in.Item),
				Category:       strings.TrimSpace(in.Category),
				Amount:         in.Amount,
				Currency:       strings.ToUpper(strings.TrimSpace(in.Currency)),
				PurchasedOn:    in.purchasedOn,
				ReturnDays:     in.ReturnDays,
				WarrantyMonths: in.WarrantyMonths,
			})
			if err != nil {
				return nil, err
			}
			return purchaseView(*p), nil
		},
	}
}

type createCaseInput struct {
	PurchaseID  string `json:"purchase_id"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

func (in *createCaseInput) Validate() error {
	if !model.CaseKind(in.Kind).Valid() {
		return fmt.Errorf("kind must be one of return, warranty, refund, complaint; got %q", in.Kind)
	}
	return nil
}

func (r *Registry) createCase() handler {
	return tool[createCaseInput]{
		def: mcptypes.NewTool(string(CreateCase),
			mcptypes.WithDescription("Open a return, warranty, refund or complaint case, optionally for a purchase."),
			mcptypes.WithString("kind", mcptypes.Required(),
				mcptypes.Enum(string(model.CaseReturn), string(model.CaseWarranty), string(model.CaseRefund), string(model.CaseComplaint)),
				mcptypes.Description("Type of case")),
			mcptypes.WithString("purchase_id", mcptypes.Description("Purchase the case is about")),
			mcptypes.WithString("description", mcptypes.Description("What went wrong and what the user wants")),
		),
		fn: func(ctx context.Context, scope Scope, in createCaseInput) (any, error) {
			return r.domain.CreateCase(ctx, model.Case{
				UserID:      scope.UserID,
				PurchaseID:  strings.TrimSpace(in.PurchaseID),
				Kind:        model.CaseKind(in.Kind),
				Description: strings.TrimSpace(in.Description),
			})
		},
	}
}

type attachDocumentInput struct {
	StoragePath string `json:"storage_path"`
	FileName    string `json:"file_name"`
	FileType    string `json:"file_type"`
	FileSize    int64  `json:"file_size"`
	PurchaseID  string `json:"purchase_id"`
	CaseID      string `json:"case_id"`
}

func (in *attachDocumentInput) Validate() error {
	if strings.TrimSpace(in.StoragePath) == "" {
		return errors.New("storage_path must not be empty")
	}
	if in.PurchaseID == "" && in.CaseID == "" {
		return errors.New("either purchase_id or case_id is required")
	}
	return nil
}

func (r *Registry) attachDocument() handler {
	return tool[attachDocumentInput]{
		def: mcptypes.NewTool(string(AttachDocument),
			mcptypes.WithDescription("Attach an uploaded file to a purchase or case. Use the storagePath listed under [Uploaded files]."),
			mcptypes.WithString("storage_path", mcptypes.Required(), mcptypes.Description("storagePath of the uploaded file")),
			mcptypes.WithString("file_name", mcptypes.Description("Original file name")),
			mcptypes.WithString("file_type", mcptypes.Description("MIME type")),
			mcptypes.WithNumber("file_size", mcptypes.Description("Size in bytes")),
			mcptypes.WithString("purchase_id", mcptypes.Description("Purchase to attach to")),
			mcptypes.WithString("case_id", mcptypes.Description("Case to attach to")),
		),
		fn: func(ctx context.Context, scope Scope, in attachDocumentInput) (any, error) {
			if !storage.OwnsPath(scope.UserID, in.StoragePath) {
				return nil, Inputf("storage_path %q is not one of your uploaded files", in.StoragePath)
			}
			if r.blobs != nil {
				ok, err := r.blobs.Exists(ctx, in.StoragePath)
				if err != nil {
					return nil, fmt.Errorf("failed to check uploaded file: %w", err)
				}
				if !ok {
					return nil, Inputf("no uploaded file at %q", in.StoragePath)
				}
			}
			fileName := in.FileName
			if fileName == "" {
				fileName = in.StoragePath[strings.LastIndex(in.StoragePath, "/")+1:]
			}
			return r.domain.AttachDocument(ctx, model.Document{
				UserID:      scope.UserID,
				PurchaseID:  in.PurchaseID,
				CaseID:      in.CaseID,
				StoragePath: in.StoragePath,
				FileName:    fileName,
				FileType:    in.FileType,
				FileSize:    in.FileSize,
			})
		},
	}
}

type listExpiringInput struct {
	Days int `json:"days"`
}

func (in *listExpiringInput) Validate() error {
	if in.Days < 0 || in.Days > 3650 {
		return errors.New("days must be between 1 and 3650")
	}
	return nil
}

func (r *Registry) listExpiring() handler {
	return tool[listExpiringInput]{
		def: mcptypes.NewTool(string(ListExpiring),
			mcptypes.WithDescription("List return windows and warranties that end within the given number of days, soonest first."),
			mcptypes.WithNumber("days", mcptypes.Description("Look-ahead in days (default 30)")),
		),
		fn: func(ctx context.Context, scope Scope, in listExpiringInput) (any, error) {
			list, err := r.domain.ListExpiring(ctx, scope.UserID, in.Days)
			if err != nil {
				return nil, err
			}
			items := make([]map[string]any, 0, len(list))
			for _, e := range list {
				items = append(items, map[string]any{
					"purchase_id": e.Purchase.ID,
					"merchant":    e.Purchase.Merchant,
					"item":        e.Purchase.Item,
					"kind":        e.Kind,
					"deadline":    e.Deadline.Format(dateLayout),
					"days_left":   e.DaysLeft,
				})
			}
			return map[string]any{"expiring": items, "count": len(items)}, nil
		},
	}
}

// purchaseView adds the computed deadlines to a purchase.
func purchaseView(p model.Purchase) map[string]any {
	view := map[string]any{
		"id":           p.ID,
		"merchant":     p.Merchant,
		"item":         p.Item,
		"category":     p.Category,
		"amount":       p.Amount,
		"currency":     p.Currency,
		"purchased_on": p.PurchasedOn.Format(dateLayout),
	}
	if d := p.ReturnDeadline(); !d.IsZero() {
		view["return_deadline"] = d.Format(dateLayout)
	}
	if d := p.WarrantyExpires(); !d.IsZero() {
		view["warranty_expires"] = d.Format(dateLayout)
	}
	return view
}
