package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/autopay-hq/autopay-engine/pkg/logger"
	"github.com/autopay-hq/autopay-engine/pkg/models"
)

// ExecutePayment submits a transferFrom moving the schedule's amount from
// the payer to the recipient, signed with the operator session key, and
// waits for the transaction to mine
func (c *Client) ExecutePayment(ctx context.Context, schedule models.Schedule) (models.ExecutionResult, error) {
	if c.auth == nil {
		return models.ExecutionResult{}, fmt.Errorf("no operator key configured")
	}

	amount, ok := new(big.Int).SetString(schedule.Amount, 10)
	if !ok {
		return models.ExecutionResult{}, fmt.Errorf("invalid payment amount: %s", schedule.Amount)
	}

	if err := c.updateGasPrice(ctx); err != nil {
		return models.ExecutionResult{}, err
	}

	nonce, err := c.nonces.Reserve(ctx, c.eth, c.auth.From)
	if err != nil {
		return models.ExecutionResult{}, err
	}

	opts := &bind.TransactOpts{
		From:     c.auth.From,
		Signer:   c.auth.Signer,
		GasPrice: c.auth.GasPrice,
		Nonce:    new(big.Int).SetUint64(nonce),
		Context:  ctx,
	}

	tx, err := c.token.Transact(opts, "transferFrom",
		common.HexToAddress(schedule.Payer),
		common.HexToAddress(schedule.Recipient),
		amount,
	)
	if err != nil {
		c.nonces.Release(nonce)
		return models.ExecutionResult{}, fmt.Errorf("failed to submit payment: %v", err)
	}
	c.nonces.Submitted(nonce, tx.Hash())

	c.logger.InfoWith(logger.Chain, "Payment for schedule %s submitted, tx %s, waiting for confirmation",
		schedule.ID, tx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		// The transaction may still mine; the nonce stays consumed
		return models.ExecutionResult{}, fmt.Errorf("failed waiting for tx %s: %v", tx.Hash().Hex(), err)
	}
	c.nonces.Confirmed(nonce)
	if receipt.Status != types.ReceiptStatusSuccessful {
		return models.ExecutionResult{}, fmt.Errorf("execution reverted: tx %s", tx.Hash().Hex())
	}

	return models.ExecutionResult{
		TxHash:      tx.Hash().Hex(),
		GasUsed:     receipt.GasUsed,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}
