package payment

import (
	"context"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"

	"melodia/internal/config"
)

// MidtransGateway creates Snap transactions and queries their status through
// the Core API.
type MidtransGateway struct {
	snap      snap.Client
	core      coreapi.Client
	finishURL string
}

func NewMidtransGateway(cfg config.Payment) *MidtransGateway {
	env := midtrans.Sandbox
	if cfg.Production {
		env = midtrans.Production
	}

	g := &MidtransGateway{}
	g.snap.New(cfg.ServerKey, env)
	g.core.New(cfg.ServerKey, env)
	if cfg.AppURL != "" {
		g.finishURL = cfg.AppURL + "/settings"
	}
	return g
}

func (g *MidtransGateway) CreateTransaction(_ context.Context, req TransactionRequest) (*TransactionToken, error) {
	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderID,
			GrossAmt: req.Amount,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    req.PackageName,
				Name:  req.PackageName + " Credits Package",
				Price: req.Amount,
				Qty:   1,
			},
		},
	}

	finishURL := req.FinishURL
	if finishURL == "" {
		finishURL = g.finishURL
	}
	if finishURL != "" {
		snapReq.Callbacks = &snap.Callbacks{Finish: finishURL}
	}

	resp, merr := g.snap.CreateTransaction(snapReq)
	if merr != nil {
		return nil, merr
	}

	return &TransactionToken{Token: resp.Token, RedirectURL: resp.RedirectURL}, nil
}

func (g *MidtransGateway) TransactionStatus(_ context.Context, orderID string) (*TransactionStatus, error) {
	resp, merr := g.core.CheckTransaction(orderID)
	// Expired and denied transactions come back with a non-2xx status_code in
	// an otherwise well-formed body.
	if merr != nil && (resp == nil || resp.TransactionStatus == "") {
		return nil, merr
	}

	return &TransactionStatus{
		OrderID:           resp.OrderID,
		StatusCode:        resp.StatusCode,
		GrossAmount:       resp.GrossAmount,
		TransactionStatus: resp.TransactionStatus,
		FraudStatus:       resp.FraudStatus,
	}, nil
}
