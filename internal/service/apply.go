package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/storeledger/internal/domain"
	"github.com/alanyoungcy/storeledger/internal/ledger"
)

// apply executes one journalled command against l. It is shared by live
// calls and replay so both take exactly the same path.
func apply(l *ledger.Ledger, cmd domain.Command) (domain.CommandResult, error) {
	var res domain.CommandResult
	switch cmd.Op {
	case domain.OpCreateStore:
		var a domain.CreateStoreArgs
		if err := decodeArgs(cmd, &a); err != nil {
			return res, err
		}
		id, err := l.CreateStore(cmd.Caller, a.StoreMetadata)
		res.StoreID = id
		return res, err

	case domain.OpMintAndListNewType:
		var a domain.MintNewTypeArgs
		if err := decodeArgs(cmd, &a); err != nil {
			return res, err
		}
		price, err := parseAmount(cmd.Op, a.Price)
		if err != nil {
			return res, err
		}
		res.StoreID = a.StoreID
		res.TypeID, res.TradeID, err = l.MintAndListNewTypeID(cmd.Caller, a.StoreID, a.URI, a.Quantity,
			price, a.PaymentToken, a.Expiration)
		return res, err

	case domain.OpMintAndListExisting:
		var a domain.MintExistingTypeArgs
		if err := decodeArgs(cmd, &a); err != nil {
			return res, err
		}
		res.StoreID, res.TypeID = a.StoreID, a.TypeID
		id, err := l.MintAndListExistingTypeID(cmd.Caller, a.StoreID, a.TypeID, a.Quantity)
		res.TradeID = id
		return res, err

	case domain.OpSetListingTerms:
		var a domain.ListingTermsArgs
		if err := decodeArgs(cmd, &a); err != nil {
			return res, err
		}
		price, err := parseAmount(cmd.Op, a.LotPrice)
		if err != nil {
			return res, err
		}
		res.StoreID, res.TypeID = a.StoreID, a.TypeID
		return res, l.SetListingTerms(cmd.Caller, a.StoreID, a.TypeID, domain.ListingTerms{
			PaymentToken: a.PaymentToken,
			LotPrice:     price,
			LotQuantity:  a.LotQuantity,
			Expiration:   a.Expiration,
		})

	case domain.OpCompleteTrade:
		var a domain.TradeArgs
		if err := decodeArgs(cmd, &a); err != nil {
			return res, err
		}
		payment, err := parseAmount(cmd.Op, a.Payment)
		if err != nil {
			return res, err
		}
		res.TradeID = a.TradeID
		return res, l.CompleteTrade(cmd.Caller, a.TradeID, payment)

	case domain.OpCloseTrade:
		var a domain.TradeArgs
		if err := decodeArgs(cmd, &a); err != nil {
			return res, err
		}
		res.TradeID = a.TradeID
		return res, l.CloseTrade(cmd.Caller, a.TradeID)

	case domain.OpBatchCompleteTrade:
		var a domain.BatchTradeArgs
		if err := decodeArgs(cmd, &a); err != nil {
			return res, err
		}
		payment, err := parseAmount(cmd.Op, a.Payment)
		if err != nil {
			return res, err
		}
		return res, l.BatchCompleteTrade(cmd.Caller, a.TradeIDs, payment)

	case domain.OpBatchCloseTrade:
		var a domain.BatchTradeArgs
		if err := decodeArgs(cmd, &a); err != nil {
			return res, err
		}
		return res, l.BatchCloseTrade(cmd.Caller, a.TradeIDs)

	case domain.OpDeposit:
		var a domain.DepositArgs
		if err := decodeArgs(cmd, &a); err != nil {
			return res, err
		}
		amount, err := parseAmount(cmd.Op, a.Amount)
		if err != nil {
			return res, err
		}
		return res, l.Deposit(cmd.Caller, a.To, amount)

	case domain.OpCreditToken:
		var a domain.CreditTokenArgs
		if err := decodeArgs(cmd, &a); err != nil {
			return res, err
		}
		amount, err := parseAmount(cmd.Op, a.Amount)
		if err != nil {
			return res, err
		}
		return res, l.CreditToken(cmd.Caller, a.Token, a.To, amount)

	case domain.OpApprove:
		var a domain.ApproveArgs
		if err := decodeArgs(cmd, &a); err != nil {
			return res, err
		}
		amount, err := parseAmount(cmd.Op, a.Amount)
		if err != nil {
			return res, err
		}
		return res, l.Approve(cmd.Caller, a.Token, amount)
	}
	return res, domain.NewCallError(string(cmd.Op),
		fmt.Errorf("%w: unknown operation", domain.ErrInvalidArgument))
}

func decodeArgs(cmd domain.Command, v any) error {
	dec := json.NewDecoder(bytes.NewReader(cmd.Args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewCallError(string(cmd.Op), fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
	}
	return nil
}

func parseAmount(op domain.CommandOp, s string) (*big.Int, error) {
	n, err := domain.ParseAmount(s)
	if err != nil {
		return nil, domain.NewCallError(string(op), err)
	}
	return n, nil
}
