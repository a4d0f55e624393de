package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "SkillRouter/internal/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 持久化账本数据，接口语义与 MemoryStore 完全一致。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const agentSchema = `CREATE TABLE IF NOT EXISTS marketplace_agents (
        id VARCHAR(128) PRIMARY KEY,
        name VARCHAR(255) NOT NULL,
        address VARCHAR(64) NOT NULL DEFAULT '',
        skills TEXT,
        ordinal BIGINT NOT NULL AUTO_INCREMENT,
        UNIQUE INDEX idx_agent_ordinal (ordinal)
)`
	const taskSchema = `CREATE TABLE IF NOT EXISTS marketplace_tasks (
        id VARCHAR(64) PRIMARY KEY,
        title VARCHAR(255) NOT NULL,
        description TEXT,
        skill VARCHAR(128) NOT NULL,
        budget_usd VARCHAR(64) NOT NULL DEFAULT '1',
        status VARCHAR(16) NOT NULL,
        buyer_address VARCHAR(64) DEFAULT '',
        worker_agent_id VARCHAR(128) DEFAULT '',
        escrow_address VARCHAR(64) DEFAULT '',
        submission TEXT,
        payout_tx_hash VARCHAR(80) DEFAULT '',
        payout_receipt_found TINYINT(1) NOT NULL DEFAULT 0,
        payout_confirmation VARCHAR(16) DEFAULT '',
        payout_from_address VARCHAR(64) DEFAULT '',
        payout_from_balance_before VARCHAR(80) DEFAULT '',
        payout_from_balance_after VARCHAR(80) DEFAULT '',
        payout_to_balance_before VARCHAR(80) DEFAULT '',
        payout_to_balance_after VARCHAR(80) DEFAULT '',
        created_at BIGINT NOT NULL,
        ordinal BIGINT NOT NULL AUTO_INCREMENT,
        UNIQUE INDEX idx_task_ordinal (ordinal),
        INDEX idx_task_status (status)
)`

	if _, err := s.db.Exec(agentSchema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 marketplace_agents 表失败")
	}
	if _, err := s.db.Exec(taskSchema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 marketplace_tasks 表失败")
	}
	return nil
}

// UpsertAgent 按 id 注册或整体覆盖执行者。ON DUPLICATE KEY 保留原有
// ordinal，因此重复注册不改变注册顺序。
func (s *MySQLStore) UpsertAgent(ctx context.Context, agent *Agent) (*Agent, error) {
	if agent == nil || strings.TrimSpace(agent.ID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent id 不能为空")
	}
	skills, err := json.Marshal(agent.Skills)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码技能列表失败")
	}

	const stmt = `INSERT INTO marketplace_agents (id, name, address, skills)
        VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE name = VALUES(name), address = VALUES(address), skills = VALUES(skills)`

	if _, err := s.db.ExecContext(ctx, stmt, agent.ID, agent.Name, agent.Address, string(skills)); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入执行者失败")
	}
	return cloneAgent(agent), nil
}

// ListAgents 按注册顺序返回全部执行者。
func (s *MySQLStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	const stmt = `SELECT id, name, address, skills FROM marketplace_agents ORDER BY ordinal ASC`
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行者列表失败")
	}
	defer rows.Close()

	var results []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历执行者列表失败")
	}
	return results, nil
}

// GetAgent 返回指定执行者。
func (s *MySQLStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	const stmt = `SELECT id, name, address, skills FROM marketplace_agents WHERE id = ?`
	agent, err := scanAgent(s.db.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	return agent, nil
}

// SeedAgents 仅在表为空时写入种子执行者。
func (s *MySQLStore) SeedAgents(ctx context.Context, agents []*Agent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM marketplace_agents`).Scan(&count); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计执行者数量失败")
	}
	if count > 0 {
		return nil
	}

	for _, agent := range agents {
		if agent == nil || strings.TrimSpace(agent.ID) == "" {
			continue
		}
		skills, err := json.Marshal(agent.Skills)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码技能列表失败")
		}
		const stmt = `INSERT INTO marketplace_agents (id, name, address, skills) VALUES (?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, stmt, agent.ID, agent.Name, agent.Address, string(skills)); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入种子执行者失败")
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交种子数据失败")
	}
	return nil
}

// CreateTask 插入新的任务记录。
func (s *MySQLStore) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = time.Now().Unix()
	}

	const stmt = `INSERT INTO marketplace_tasks
        (id, title, description, skill, budget_usd, status, buyer_address, worker_agent_id, escrow_address, submission,
         payout_tx_hash, payout_receipt_found, payout_confirmation, payout_from_address,
         payout_from_balance_before, payout_from_balance_after, payout_to_balance_before, payout_to_balance_after,
         created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		task.ID,
		task.Title,
		task.Description,
		task.Skill,
		task.BudgetUSD,
		task.Status,
		task.BuyerAddress,
		task.WorkerAgentID,
		task.EscrowAddress,
		task.Submission,
		task.PayoutTxHash,
		task.PayoutReceiptFound,
		task.PayoutConfirmation,
		task.PayoutFromAddress,
		task.PayoutFromBalanceBefore,
		task.PayoutFromBalanceAfter,
		task.PayoutToBalanceBefore,
		task.PayoutToBalanceAfter,
		task.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

const taskColumns = `id, title, description, skill, budget_usd, status, buyer_address, worker_agent_id, escrow_address, submission,
        payout_tx_hash, payout_receipt_found, payout_confirmation, payout_from_address,
        payout_from_balance_before, payout_from_balance_after, payout_to_balance_before, payout_to_balance_after,
        created_at`

// ListTasks 按写入顺序倒序返回全部任务（最新优先）。
func (s *MySQLStore) ListTasks(ctx context.Context) ([]*Task, error) {
	stmt := `SELECT ` + taskColumns + ` FROM marketplace_tasks ORDER BY ordinal DESC`
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	var results []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务列表失败")
	}
	return results, nil
}

// GetTask 查询指定任务。
func (s *MySQLStore) GetTask(ctx context.Context, id string) (*Task, error) {
	stmt := `SELECT ` + taskColumns + ` FROM marketplace_tasks WHERE id = ?`
	task, err := scanTask(s.db.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// UpdateTask 将补丁浅合并进既有记录并返回更新后的任务。
func (s *MySQLStore) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	assignments := make([]string, 0, 14)
	args := make([]any, 0, 15)
	add := func(column string, value any) {
		assignments = append(assignments, column+" = ?")
		args = append(args, value)
	}

	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.WorkerAgentID != nil {
		add("worker_agent_id", *patch.WorkerAgentID)
	}
	if patch.EscrowAddress != nil {
		add("escrow_address", *patch.EscrowAddress)
	}
	if patch.Submission != nil {
		add("submission", *patch.Submission)
	}
	if patch.PayoutTxHash != nil {
		add("payout_tx_hash", *patch.PayoutTxHash)
	}
	if patch.PayoutReceiptFound != nil {
		add("payout_receipt_found", *patch.PayoutReceiptFound)
	}
	if patch.PayoutConfirmation != nil {
		add("payout_confirmation", *patch.PayoutConfirmation)
	}
	if patch.PayoutFromAddress != nil {
		add("payout_from_address", *patch.PayoutFromAddress)
	}
	if patch.PayoutFromBalanceBefore != nil {
		add("payout_from_balance_before", *patch.PayoutFromBalanceBefore)
	}
	if patch.PayoutFromBalanceAfter != nil {
		add("payout_from_balance_after", *patch.PayoutFromBalanceAfter)
	}
	if patch.PayoutToBalanceBefore != nil {
		add("payout_to_balance_before", *patch.PayoutToBalanceBefore)
	}
	if patch.PayoutToBalanceAfter != nil {
		add("payout_to_balance_after", *patch.PayoutToBalanceAfter)
	}

	if len(assignments) > 0 {
		stmt := fmt.Sprintf(`UPDATE marketplace_tasks SET %s WHERE id = ?`, strings.Join(assignments, ", "))
		args = append(args, id)
		result, err := s.db.ExecContext(ctx, stmt, args...)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
		}
		affected, err := result.RowsAffected()
		if err == nil && affected == 0 {
			if _, getErr := s.GetTask(ctx, id); getErr != nil {
				return nil, getErr
			}
		}
	}
	return s.GetTask(ctx, id)
}

// Close 释放数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var agent Agent
	var skills sql.NullString
	if err := row.Scan(&agent.ID, &agent.Name, &agent.Address, &skills); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取执行者记录失败")
	}
	if skills.Valid && skills.String != "" {
		if err := json.Unmarshal([]byte(skills.String), &agent.Skills); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析技能列表失败")
		}
	}
	return &agent, nil
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	if err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&task.Skill,
		&task.BudgetUSD,
		&task.Status,
		&task.BuyerAddress,
		&task.WorkerAgentID,
		&task.EscrowAddress,
		&task.Submission,
		&task.PayoutTxHash,
		&task.PayoutReceiptFound,
		&task.PayoutConfirmation,
		&task.PayoutFromAddress,
		&task.PayoutFromBalanceBefore,
		&task.PayoutFromBalanceAfter,
		&task.PayoutToBalanceBefore,
		&task.PayoutToBalanceAfter,
		&task.CreatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务记录失败")
	}
	return &task, nil
}

var _ Store = (*MySQLStore)(nil)
