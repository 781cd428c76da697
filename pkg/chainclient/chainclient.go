// Package chainclient adapts a JSON-RPC endpoint into the collaborator
// interfaces the engine consumes: gas oracle, balance oracle, payment
// executor and transfer event source.
package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/autopay-hq/autopay-engine/pkg/logger"
)

// gweiPerWei converts wei-denominated gas prices to gwei
var gweiPerWei = big.NewInt(1_000_000_000)

// Client contains the RPC connection and contract bindings for the
// watched payment token
type Client struct {
	RPCURL       string
	TokenAddress common.Address

	eth      *ethclient.Client
	token    *bind.BoundContract
	tokenABI abi.ABI
	auth     *bind.TransactOpts
	nonces   *NonceManager
	beat     heartbeat
	logger   logger.Logger
}

// New connects to the RPC endpoint and binds the payment token contract.
// The private key is the operator's delegated session key; payers have
// pre-approved it for transferFrom.
func New(ctx context.Context, rpcURL, tokenAddress, privateKey string, log logger.Logger) (*Client, error) {
	client := &Client{
		RPCURL:       rpcURL,
		TokenAddress: common.HexToAddress(tokenAddress),
		nonces:       NewNonceManager(log),
		logger:       log,
	}
	if err := client.connect(ctx, privateKey); err != nil {
		return nil, fmt.Errorf("failed to connect to chain: %v", err)
	}
	return client, nil
}

// connect establishes the RPC connection and initializes contract bindings
func (c *Client) connect(ctx context.Context, privateKey string) error {
	client, err := ethclient.Dial(c.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to client: %v", err)
	}
	c.eth = client

	parsedABI, err := erc20ABI()
	if err != nil {
		return fmt.Errorf("failed to parse ERC20 ABI: %v", err)
	}
	c.tokenABI = parsedABI
	c.token = bind.NewBoundContract(c.TokenAddress, parsedABI, client, client, client)

	if privateKey != "" {
		auth, err := createAuthenticator(ctx, client, privateKey)
		if err != nil {
			return fmt.Errorf("failed to create authenticator: %v", err)
		}
		c.auth = auth
	}

	return nil
}

// CurrentGasPriceGwei returns the current network gas price in integer gwei
func (c *Client) CurrentGasPriceGwei(ctx context.Context) (int64, error) {
	if c.eth == nil {
		return 0, fmt.Errorf("client not connected")
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get gas price: %v", err)
	}
	return new(big.Int).Div(gasPrice, gweiPerWei).Int64(), nil
}

// BalanceOf returns the token balance of the address in base units as a
// decimal string. The token argument is accepted for interface
// compatibility; this client always reads the bound payment token.
func (c *Client) BalanceOf(ctx context.Context, address string, _ string) (string, error) {
	if c.token == nil {
		return "", fmt.Errorf("client not connected")
	}

	callOpts := &bind.CallOpts{Context: ctx}
	var out []interface{}
	err := c.token.Call(callOpts, &out, "balanceOf", common.HexToAddress(address))
	if err != nil {
		return "", fmt.Errorf("failed to get balance: %v", err)
	}
	if len(out) == 0 || out[0] == nil {
		return "", fmt.Errorf("empty result from balanceOf call")
	}

	balance, ok := out[0].(*big.Int)
	if !ok || balance == nil {
		return "", fmt.Errorf("invalid balanceOf result type")
	}
	return balance.String(), nil
}

// LatestBlockNumber gets the latest block number from the chain
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if c.eth == nil {
		return 0, fmt.Errorf("client not connected")
	}
	return c.eth.BlockNumber(ctx)
}

// Connected reports whether the RPC connection is established and, when
// the head watcher runs, whether blocks are still arriving
func (c *Client) Connected() bool {
	return c.eth != nil && c.beat.healthy()
}

// OperatorAddress returns the address of the operator signing key
func (c *Client) OperatorAddress() common.Address {
	if c.auth == nil {
		return common.Address{}
	}
	return c.auth.From
}

// Close tears down the RPC connection
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

// Helper function to create authenticator
func createAuthenticator(ctx context.Context, client *ethclient.Client, privateKeyHex string) (*bind.TransactOpts, error) {
	// Parse private key
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	// Get chain ID
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}

	// Create transaction signer
	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %v", err)
	}

	return auth, nil
}

// updateGasPrice refreshes the transactor's gas price from the network
// before a submission
func (c *Client) updateGasPrice(ctx context.Context) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := c.eth.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return fmt.Errorf("failed to get gas price: %v", err)
	}
	c.auth.GasPrice = gasPrice
	return nil
}

// erc20ABI returns the subset of the ERC20 ABI the client uses
func erc20ABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(`[
		{
			"constant": true,
			"inputs": [
				{
					"name": "_owner",
					"type": "address"
				}
			],
			"name": "balanceOf",
			"outputs": [
				{
					"name": "",
					"type": "uint256"
				}
			],
			"payable": false,
			"stateMutability": "view",
			"type": "function"
		},
		{
			"constant": false,
			"inputs": [
				{
					"name": "_from",
					"type": "address"
				},
				{
					"name": "_to",
					"type": "address"
				},
				{
					"name": "_value",
					"type": "uint256"
				}
			],
			"name": "transferFrom",
			"outputs": [
				{
					"name": "",
					"type": "bool"
				}
			],
			"payable": false,
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"anonymous": false,
			"inputs": [
				{
					"indexed": true,
					"name": "from",
					"type": "address"
				},
				{
					"indexed": true,
					"name": "to",
					"type": "address"
				},
				{
					"indexed": false,
					"name": "value",
					"type": "uint256"
				}
			],
			"name": "Transfer",
			"type": "event"
		}
	]`))
}
