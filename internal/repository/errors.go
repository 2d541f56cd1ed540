package repository

import "errors"

var ErrNotFound = errors.New("not found")

// 条件付き更新で0件（他の処理が先に状態を変えた）
var ErrStatusConflict = errors.New("status precondition failed")

// 一意制約違反（冪等キー・未完了サイクルなど）
var ErrDuplicateKey = errors.New("duplicate key")
