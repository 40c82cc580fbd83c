package p2p

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// EncodeMsg RLP-encodes val into a framed message with the given code.
func EncodeMsg(code uint64, val interface{}) (Msg, error) {
	payload, err := rlp.EncodeToBytes(val)
	if err != nil {
		return Msg{}, fmt.Errorf("p2p: encode %s: %w", MessageName(code), err)
	}
	return Msg{Code: code, Size: uint32(len(payload)), Payload: payload}, nil
}

// DecodeMsg RLP-decodes a framed message payload into val.
func DecodeMsg(msg Msg, val interface{}) error {
	if err := rlp.DecodeBytes(msg.Payload, val); err != nil {
		return fmt.Errorf("p2p: decode %s: %w", MessageName(msg.Code), err)
	}
	return nil
}

// MessageName returns a human-readable name for a message code.
func MessageName(code uint64) string {
	switch code {
	case StatusMsg:
		return "Status"
	case NewBlockHashesMsg:
		return "NewBlockHashes"
	case TransactionsMsg:
		return "Transactions"
	case GetBlockHeadersMsg:
		return "GetBlockHeaders"
	case BlockHeadersMsg:
		return "BlockHeaders"
	case GetBlockBodiesMsg:
		return "GetBlockBodies"
	case BlockBodiesMsg:
		return "BlockBodies"
	case NewBlockMsg:
		return "NewBlock"
	case DisconnectMsg:
		return "Disconnect"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", code)
	}
}
