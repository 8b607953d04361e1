package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"

	"rubin.dev/ctv/consensus"
	"rubin.dev/ctv/crypto"
)

type TxOutJSON struct {
	Value    int64  `json:"value"`
	PkScript string `json:"pk_script"`
}

type Request struct {
	Op         string `json:"op"`
	TxHex      string `json:"tx_hex,omitempty"`
	InputIndex uint32 `json:"input_index,omitempty"`

	HashHex        string      `json:"hash,omitempty"`
	Embedding      string      `json:"embedding,omitempty"`
	InternalKeyHex string      `json:"internal_key,omitempty"`
	Stack          []string    `json:"stack,omitempty"`
	PrevOuts       []TxOutJSON `json:"prevouts,omitempty"`
	Flags          string      `json:"flags,omitempty"`
	Height         *uint32     `json:"height,omitempty"`
	Activation     uint32      `json:"ctv_activation_height,omitempty"`

	Depth          int    `json:"depth,omitempty"`
	LeafValue      int64  `json:"leaf_value,omitempty"`
	LeafScriptHex  string `json:"leaf_script,omitempty"`
	LevelIncrement int64  `json:"level_increment,omitempty"`
	FundingTxid    string `json:"funding_txid,omitempty"`
	FundingVout    uint32 `json:"funding_vout,omitempty"`
}

type Response struct {
	Ok  bool   `json:"ok"`
	Err string `json:"err,omitempty"`

	HashHex     string   `json:"hash,omitempty"`
	ScriptHex   string   `json:"script,omitempty"`
	PkScriptHex string   `json:"pk_script,omitempty"`
	Witness     []string `json:"witness,omitempty"`
	Outcome     string   `json:"outcome,omitempty"`

	Classification string `json:"classification,omitempty"`
	RelayReason    string `json:"relay_reason,omitempty"`
	BlockReason    string `json:"block_reason,omitempty"`
	FailedInput    *int   `json:"failed_input,omitempty"`

	Root       *TxOutJSON    `json:"root,omitempty"`
	Layers     [][]TxOutJSON `json:"layers,omitempty"`
	Expansions []string      `json:"expansions,omitempty"`
}

var provider crypto.Provider = crypto.StdProvider{}

func writeResp(w io.Writer, resp Response) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(resp)
}

func writeConsensusErr(w io.Writer, err error) {
	if code, ok := consensus.ErrorCodeOf(err); ok {
		writeResp(w, Response{Ok: false, Err: string(code)})
		return
	}
	writeResp(w, Response{Ok: false, Err: err.Error()})
}

func parseTx(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("bad hex")
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("bad tx: %v", err)
	}
	return &tx, nil
}

func encodeTx(tx *wire.MsgTx) string {
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)
	return hex.EncodeToString(buf.Bytes())
}

func parseHash32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return out, fmt.Errorf("bad hash")
	}
	copy(out[:], b)
	return out, nil
}

func parsePrevOuts(items []TxOutJSON) ([]*wire.TxOut, error) {
	out := make([]*wire.TxOut, len(items))
	for i, it := range items {
		script, err := hex.DecodeString(it.PkScript)
		if err != nil {
			return nil, fmt.Errorf("bad prevout %d", i)
		}
		out[i] = wire.NewTxOut(it.Value, script)
	}
	return out, nil
}

func txOutJSON(o *wire.TxOut) TxOutJSON {
	return TxOutJSON{Value: o.Value, PkScript: hex.EncodeToString(o.PkScript)}
}

// scriptFlags resolves the request's flag set. An explicit height applies
// the activation schedule.
func scriptFlags(req Request) (consensus.ScriptFlags, error) {
	height := ^uint32(0)
	if req.Height != nil {
		height = *req.Height
	}
	switch req.Flags {
	case "", "standard":
		return consensus.StandardFlagsAtHeight(height, req.Activation), nil
	case "mandatory":
		return consensus.ScriptFlagsAtHeight(height, req.Activation), nil
	default:
		return 0, fmt.Errorf("bad flags")
	}
}

func runFromStdin() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResp(os.Stdout, Response{Ok: false, Err: fmt.Sprintf("bad request: %v", err)})
		return
	}
	handle(os.Stdout, req)
}

func handle(w io.Writer, req Request) {
	switch req.Op {
	case "template_hash":
		tx, err := parseTx(req.TxHex)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: err.Error()})
			return
		}
		h, err := consensus.TemplateHash(provider, tx, req.InputIndex)
		if err != nil {
			writeConsensusErr(w, err)
			return
		}
		writeResp(w, Response{Ok: true, HashHex: hex.EncodeToString(h[:])})

	case "commitment_script":
		h, err := parseHash32(req.HashHex)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: err.Error()})
			return
		}
		kind := consensus.EmbedBare
		if req.Embedding != "" {
			if kind, err = consensus.ParseEmbedding(req.Embedding); err != nil {
				writeResp(w, Response{Ok: false, Err: err.Error()})
				return
			}
		}
		var internal *btcec.PublicKey
		if req.InternalKeyHex != "" {
			raw, err := hex.DecodeString(req.InternalKeyHex)
			if err != nil {
				writeResp(w, Response{Ok: false, Err: "bad internal_key"})
				return
			}
			if internal, err = btcec.ParsePubKey(raw); err != nil {
				writeResp(w, Response{Ok: false, Err: "bad internal_key"})
				return
			}
		}
		c, err := consensus.Embed(provider, kind, h, internal)
		if err != nil {
			writeConsensusErr(w, err)
			return
		}
		resp := Response{
			Ok:          true,
			ScriptHex:   hex.EncodeToString(c.Script),
			PkScriptHex: hex.EncodeToString(c.PkScript),
		}
		for _, item := range c.SpendWitness() {
			resp.Witness = append(resp.Witness, hex.EncodeToString(item))
		}
		writeResp(w, resp)

	case "eval_ctv":
		tx, err := parseTx(req.TxHex)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: err.Error()})
			return
		}
		stack := make([][]byte, len(req.Stack))
		for i, s := range req.Stack {
			if stack[i], err = hex.DecodeString(s); err != nil {
				writeResp(w, Response{Ok: false, Err: "bad stack"})
				return
			}
		}
		outcome, err := consensus.EvalCheckTemplateVerify(stack, consensus.NewTxContext(provider, tx, nil), req.InputIndex)
		if err != nil {
			writeConsensusErr(w, err)
			return
		}
		writeResp(w, Response{
			Ok:             true,
			Outcome:        outcome.String(),
			Classification: consensus.ClassifyOutcome(outcome).String(),
		})

	case "verify_input", "gate_tx":
		tx, err := parseTx(req.TxHex)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: err.Error()})
			return
		}
		prevOuts, err := parsePrevOuts(req.PrevOuts)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: err.Error()})
			return
		}
		tc := consensus.NewTxContext(provider, tx, prevOuts)
		if req.Op == "verify_input" {
			flags, err := scriptFlags(req)
			if err != nil {
				writeResp(w, Response{Ok: false, Err: err.Error()})
				return
			}
			if err := consensus.VerifyInputScript(tc, req.InputIndex, flags); err != nil {
				writeConsensusErr(w, err)
				return
			}
			writeResp(w, Response{Ok: true})
			return
		}
		height := ^uint32(0)
		if req.Height != nil {
			height = *req.Height
		}
		v := consensus.GateTransaction(tc,
			consensus.StandardFlagsAtHeight(height, req.Activation),
			consensus.ScriptFlagsAtHeight(height, req.Activation))
		resp := Response{
			Ok:             true,
			Classification: v.Class.String(),
			RelayReason:    v.RelayReason(),
			BlockReason:    v.BlockReason(),
		}
		if v.InputIndex >= 0 {
			idx := v.InputIndex
			resp.FailedInput = &idx
		}
		writeResp(w, resp)

	case "build_tree":
		leafScript, err := hex.DecodeString(req.LeafScriptHex)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: "bad leaf_script"})
			return
		}
		tree, err := consensus.BuildCongestionTree(provider, req.Depth, func(int) *wire.TxOut {
			return wire.NewTxOut(req.LeafValue, leafScript)
		}, req.LevelIncrement)
		if err != nil {
			writeConsensusErr(w, err)
			return
		}
		root := txOutJSON(tree.Root())
		resp := Response{Ok: true, Root: &root}
		for k := 0; k <= tree.Depth(); k++ {
			layer := tree.Layer(k)
			outs := make([]TxOutJSON, len(layer))
			for i, o := range layer {
				outs[i] = txOutJSON(o)
			}
			resp.Layers = append(resp.Layers, outs)
		}
		if req.FundingTxid != "" {
			h, err := parseHash32(req.FundingTxid)
			if err != nil {
				writeResp(w, Response{Ok: false, Err: "bad funding_txid"})
				return
			}
			txs, err := tree.Expand(wire.OutPoint{Hash: h, Index: req.FundingVout})
			if err != nil {
				writeConsensusErr(w, err)
				return
			}
			for _, tx := range txs {
				resp.Expansions = append(resp.Expansions, encodeTx(tx))
			}
		}
		writeResp(w, resp)

	default:
		writeResp(w, Response{Ok: false, Err: "unknown op"})
	}
}
