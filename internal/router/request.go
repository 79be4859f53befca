package router

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/kis-vi/internal/model"
)

// EncodeRequest builds a subscribe or unsubscribe control frame.
func EncodeRequest(approvalKey string, dir model.Direction, sub model.Subscription) ([]byte, error) {
	if approvalKey == "" {
		return nil, ErrMissingApprovalKey
	}
	if dir != model.Subscribe && dir != model.Unsubscribe {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	if sub.TrID == "" {
		return nil, ErrMissingTrID
	}

	req := requestFrame{
		Header: requestHeader{
			ApprovalKey: approvalKey,
			CustType:    "P",
			TrType:      string(dir),
			ContentType: "utf-8",
		},
		Body: requestBody{
			Input: requestInput{TrID: sub.TrID, TrKey: sub.TrKey},
		},
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return data, nil
}
