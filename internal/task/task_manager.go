package task

import (
	"context"
	"log"
	"time"

	"supplier_feed_v1/internal/service"
)

// ==================== TaskManager 定时任务管理器 ====================

// TaskManager 统一管理定时任务
// 目前只有每日 feed 对账同步
type TaskManager struct {
	syncTask *SyncTask
	syncer   Syncer
}

// TaskManagerDeps 任务管理器依赖
type TaskManagerDeps struct {
	SyncService Syncer
}

// TaskManagerConfig 任务管理器配置
type TaskManagerConfig struct {
	SyncEnabled bool
	SyncHour    int
	SyncMinute  int
	Location    *time.Location
}

// DefaultConfig 默认每天 03:00 本地时间
func DefaultConfig() *TaskManagerConfig {
	return &TaskManagerConfig{
		SyncEnabled: true,
		SyncHour:    3,
		SyncMinute:  0,
		Location:    time.Local,
	}
}

// NewTaskManager 创建任务管理器
func NewTaskManager(deps *TaskManagerDeps, cfg *TaskManagerConfig) *TaskManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	tm := &TaskManager{syncer: deps.SyncService}
	if cfg.SyncEnabled && deps.SyncService != nil {
		tm.syncTask = NewSyncTask(deps.SyncService, cfg.SyncHour, cfg.SyncMinute, cfg.Location)
	}
	return tm
}

// ==================== 生命周期管理 ====================

// Start 启动所有任务
func (tm *TaskManager) Start() error {
	log.Println("[TaskManager] 正在启动定时任务...")

	if tm.syncTask != nil {
		if err := tm.syncTask.Start(); err != nil {
			return err
		}
	}

	log.Println("[TaskManager] 定时任务已全部启动")
	return nil
}

// Stop 停止所有任务
func (tm *TaskManager) Stop() {
	log.Println("[TaskManager] 正在停止定时任务...")

	if tm.syncTask != nil {
		tm.syncTask.Stop()
	}

	log.Println("[TaskManager] 定时任务已全部停止")
}

// ==================== 手动触发接口 ====================

// TriggerSync 手动同步，定时任务关闭时仍可触发
func (tm *TaskManager) TriggerSync(ctx context.Context) (*service.SyncResult, error) {
	if tm.syncTask != nil {
		return tm.syncTask.RunNow(ctx)
	}
	if tm.syncer == nil {
		return nil, ErrTaskDisabled
	}
	return runManual(ctx, tm.syncer)
}

// ==================== 状态查询 ====================

// Status 获取任务状态
func (tm *TaskManager) Status() map[string]any {
	status := map[string]any{"sync": tm.syncTask != nil}
	if tm.syncTask != nil {
		status["next_run_at"] = NextRunAt(time.Now(), tm.syncTask.hour, tm.syncTask.minute, tm.syncTask.loc)
	}
	return status
}

// ==================== 错误定义 ====================

type TaskError string

func (e TaskError) Error() string { return string(e) }

const (
	ErrTaskDisabled TaskError = "task is disabled"
)
