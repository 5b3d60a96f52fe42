package verify

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/mark3labs/paywall-go/chain"
)

// transfer is a transfer observed in a transaction. For token transfers from
// is the authority wallet when known and to is the destination token account.
type transfer struct {
	from   string
	to     string
	amount uint64
	mint   string
}

var (
	systemProgramID     = solana.SystemProgramID.String()
	tokenProgramID      = solana.TokenProgramID.String()
	token2022ProgramID  = solana.Token2022ProgramID.String()
	nativeTransferTypes = map[string]bool{"transfer": true, "transferWithSeed": true}
)

// allInstructions yields top-level instructions first, then inner ones, so a
// direct transfer wins over a CPI transfer.
func allInstructions(tx *chain.ParsedTransaction) []chain.Instruction {
	out := make([]chain.Instruction, 0, len(tx.Instructions)+len(tx.InnerInstructions))
	out = append(out, tx.Instructions...)
	return append(out, tx.InnerInstructions...)
}

func isSystem(ix chain.Instruction) bool {
	return ix.ProgramID == systemProgramID || ix.Program == "system"
}

func isToken(ix chain.Instruction) bool {
	switch {
	case ix.ProgramID == tokenProgramID, ix.ProgramID == token2022ProgramID:
		return true
	case ix.Program == "spl-token", ix.Program == "spl-token-2022":
		return true
	}
	return false
}

// findNativeTransfer returns the first system transfer whose destination is
// exactly recipient.
func findNativeTransfer(tx *chain.ParsedTransaction, recipient string) (transfer, bool) {
	for _, ix := range allInstructions(tx) {
		if !isSystem(ix) || !nativeTransferTypes[ix.Type] {
			continue
		}
		if infoString(ix.Info, "destination") != recipient {
			continue
		}
		lamports, ok := infoUint(ix.Info["lamports"])
		if !ok {
			continue
		}
		return transfer{
			from:   infoString(ix.Info, "source"),
			to:     recipient,
			amount: lamports,
		}, true
	}
	return transfer{}, false
}

// tokenTransfers returns every token program transfer in the transaction. The
// mint is filled from the instruction (transferChecked) or from the
// destination's token balance entry (transfer); it is empty when neither
// says.
func tokenTransfers(tx *chain.ParsedTransaction) []transfer {
	mints := make(map[string]string)
	for _, b := range tx.PostTokenBalances {
		if b.Account != "" {
			mints[b.Account] = b.Mint
		}
	}
	for _, b := range tx.PreTokenBalances {
		if _, ok := mints[b.Account]; !ok && b.Account != "" {
			mints[b.Account] = b.Mint
		}
	}

	var out []transfer
	for _, ix := range allInstructions(tx) {
		if !isToken(ix) {
			continue
		}
		var amount uint64
		var ok bool
		mint := infoString(ix.Info, "mint")
		switch ix.Type {
		case "transfer":
			amount, ok = infoUint(ix.Info["amount"])
		case "transferChecked":
			if ta, isMap := ix.Info["tokenAmount"].(map[string]any); isMap {
				amount, ok = infoUint(ta["amount"])
			}
		default:
			continue
		}
		if !ok {
			continue
		}

		dest := infoString(ix.Info, "destination")
		if mint == "" {
			mint = mints[dest]
		}
		from := infoString(ix.Info, "authority")
		if from == "" {
			from = infoString(ix.Info, "multisigAuthority")
		}
		if from == "" {
			from = infoString(ix.Info, "source")
		}
		out = append(out, transfer{from: from, to: dest, amount: amount, mint: mint})
	}
	return out
}

// balanceDelta finds a token account owned by recipient whose balance of mint
// increased, for transactions whose transfer the node did not parse.
func balanceDelta(tx *chain.ParsedTransaction, recipient, mint string) (transfer, bool) {
	pre := make(map[int]chain.TokenBalance, len(tx.PreTokenBalances))
	for _, b := range tx.PreTokenBalances {
		pre[b.AccountIndex] = b
	}

	for _, post := range tx.PostTokenBalances {
		if post.Owner != recipient || post.Mint != mint {
			continue
		}
		before := pre[post.AccountIndex].Amount
		if post.Amount <= before {
			continue
		}

		t := transfer{to: post.Account, amount: post.Amount - before, mint: mint}
		// The sender is whoever lost the same mint.
		for _, p := range tx.PreTokenBalances {
			if p.Mint != mint || p.AccountIndex == post.AccountIndex {
				continue
			}
			if after, ok := postAmount(tx, p.AccountIndex); ok && after < p.Amount {
				t.from = p.Owner
				break
			}
		}
		return t, true
	}
	return transfer{}, false
}

func postAmount(tx *chain.ParsedTransaction, index int) (uint64, bool) {
	for _, b := range tx.PostTokenBalances {
		if b.AccountIndex == index {
			return b.Amount, true
		}
	}
	return 0, false
}

// ownerOf returns the owner recorded in the transaction's token balances for
// a token account, if any.
func ownerOf(tx *chain.ParsedTransaction, account string) string {
	for _, b := range tx.PostTokenBalances {
		if b.Account == account && b.Owner != "" {
			return b.Owner
		}
	}
	for _, b := range tx.PreTokenBalances {
		if b.Account == account && b.Owner != "" {
			return b.Owner
		}
	}
	return ""
}

func infoString(info map[string]any, key string) string {
	s, _ := info[key].(string)
	return s
}

// infoUint reads an amount that may arrive as a JSON number or a decimal string.
func infoUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case float64:
		if n < 0 || n > math.MaxUint64 || n != math.Trunc(n) {
			return 0, false
		}
		return uint64(n), true
	case json.Number:
		u, err := strconv.ParseUint(n.String(), 10, 64)
		return u, err == nil
	case string:
		u, err := strconv.ParseUint(n, 10, 64)
		return u, err == nil
	default:
		return 0, false
	}
}
