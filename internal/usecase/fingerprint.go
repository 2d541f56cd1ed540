package usecase

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"
)

// 冪等キーの使い回しを見分けるためのリクエスト指紋。
// トークンの値は入れない（再送時に取り直されることがある）
func requestFingerprint(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
