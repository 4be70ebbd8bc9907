package store

import (
	"BPNet/pkg/network"
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

/*
该文件实现模型库：网络快照保存在 sqlite 中
models 表保存网络级别的超参数，layers 表按层保存权重和梯度累加器
*/

var ErrNotFound = errors.New("模型不存在")

const schema = `
CREATE TABLE IF NOT EXISTS models(
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	input_width INTEGER NOT NULL,
	batch_size INTEGER NOT NULL,
	epochs INTEGER NOT NULL,
	epsilon REAL NOT NULL,
	layout INTEGER NOT NULL,
	rule TEXT NOT NULL,
	frozen INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS layers(
	model_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	input_size INTEGER NOT NULL,
	output_size INTEGER NOT NULL,
	learning_rate REAL NOT NULL,
	momentum REAL NOT NULL,
	weights BLOB NOT NULL,
	gradients BLOB NOT NULL,
	PRIMARY KEY(model_id, idx)
);`

// ModelInfo 模型列表中的一项
type ModelInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	InputWidth  int       `json:"input_width"`
	OutputWidth int       `json:"output_width"`
	NumLayers   int       `json:"num_layers"`
	Frozen      bool      `json:"frozen"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）模型库
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "打开模型库 %s 失败", path)
	}
	// sqlite 同一时间只允许一个写连接
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "初始化模型库失败")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save 保存快照，同一 id 已存在时整体覆盖
func (s *Store) Save(ctx context.Context, id, name string, snap *network.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "开启事务失败")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM layers WHERE model_id = ?", id); err != nil {
		return errors.Wrapf(err, "清理模型 %s 的旧层失败", id)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO models(id, name, input_width, batch_size, epochs, epsilon, layout, rule, frozen, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			input_width = excluded.input_width,
			batch_size = excluded.batch_size,
			epochs = excluded.epochs,
			epsilon = excluded.epsilon,
			layout = excluded.layout,
			rule = excluded.rule,
			frozen = excluded.frozen,
			updated_at = excluded.updated_at`,
		id, name, snap.InputWidth, snap.BatchSize, snap.Epochs, snap.Epsilon,
		int(snap.Layout), snap.Rule, snap.Frozen, time.Now().UnixMilli())
	if err != nil {
		return errors.Wrapf(err, "保存模型 %s 失败", id)
	}

	for i, l := range snap.Layers {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO layers(model_id, idx, input_size, output_size, learning_rate, momentum, weights, gradients)
			VALUES(?,?,?,?,?,?,?,?)`,
			id, i, l.InputSize, l.OutputSize, l.LearningRate, l.Momentum, l.Weights, l.Gradients)
		if err != nil {
			return errors.Wrapf(err, "保存模型 %s 第 %d 层失败", id, i)
		}
	}
	return errors.Wrap(tx.Commit(), "提交事务失败")
}

// Load 读取快照，返回快照和模型名称
func (s *Store) Load(ctx context.Context, id string) (*network.Snapshot, string, error) {
	var (
		name   string
		layout int
		snap   network.Snapshot
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, input_width, batch_size, epochs, epsilon, layout, rule, frozen
		FROM models WHERE id = ?`, id).
		Scan(&name, &snap.InputWidth, &snap.BatchSize, &snap.Epochs, &snap.Epsilon, &layout, &snap.Rule, &snap.Frozen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", errors.Wrapf(ErrNotFound, "id %s", id)
	}
	if err != nil {
		return nil, "", errors.Wrapf(err, "读取模型 %s 失败", id)
	}
	snap.Layout = network.GradientLayout(layout)

	rows, err := s.db.QueryContext(ctx, `
		SELECT input_size, output_size, learning_rate, momentum, weights, gradients
		FROM layers WHERE model_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, "", errors.Wrapf(err, "读取模型 %s 的层失败", id)
	}
	defer rows.Close()
	for rows.Next() {
		var l network.LayerSnapshot
		if err := rows.Scan(&l.InputSize, &l.OutputSize, &l.LearningRate, &l.Momentum, &l.Weights, &l.Gradients); err != nil {
			return nil, "", errors.Wrapf(err, "读取模型 %s 的层失败", id)
		}
		snap.Layers = append(snap.Layers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, "", errors.Wrapf(err, "读取模型 %s 的层失败", id)
	}
	return &snap, name, nil
}

// List 按更新时间倒序列出所有模型
func (s *Store) List(ctx context.Context) ([]ModelInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.name, m.input_width, m.frozen, m.updated_at,
			COUNT(l.idx),
			COALESCE((SELECT output_size FROM layers WHERE model_id = m.id ORDER BY idx DESC LIMIT 1), m.input_width)
		FROM models m LEFT JOIN layers l ON l.model_id = m.id
		GROUP BY m.id
		ORDER BY m.updated_at DESC, m.id`)
	if err != nil {
		return nil, errors.Wrap(err, "列出模型失败")
	}
	defer rows.Close()

	var infos []ModelInfo
	for rows.Next() {
		var (
			info    ModelInfo
			updated int64
		)
		if err := rows.Scan(&info.ID, &info.Name, &info.InputWidth, &info.Frozen, &updated, &info.NumLayers, &info.OutputWidth); err != nil {
			return nil, errors.Wrap(err, "列出模型失败")
		}
		info.UpdatedAt = time.UnixMilli(updated)
		infos = append(infos, info)
	}
	return infos, errors.Wrap(rows.Err(), "列出模型失败")
}

// Delete 删除模型及其所有层
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "开启事务失败")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM models WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "删除模型 %s 失败", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "删除模型 %s 失败", id)
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "id %s", id)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM layers WHERE model_id = ?", id); err != nil {
		return errors.Wrapf(err, "删除模型 %s 的层失败", id)
	}
	return errors.Wrap(tx.Commit(), "提交事务失败")
}
