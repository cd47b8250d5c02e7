package task

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"supplier_feed_v1/internal/service"
)

// runTimeout 单次定时同步的最长时间，与同步锁 TTL 一致
const runTimeout = service.LockTTL

// Syncer 执行一次对账同步
type Syncer interface {
	Run(ctx context.Context, trigger string) (*service.SyncResult, error)
}

// SyncTask 每日定时同步
type SyncTask struct {
	syncer Syncer
	Cron   *cron.Cron
	hour   int
	minute int
	loc    *time.Location
}

func NewSyncTask(syncer Syncer, hour, minute int, loc *time.Location) *SyncTask {
	if loc == nil {
		loc = time.Local
	}
	return &SyncTask{
		syncer: syncer,
		Cron:   cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		hour:   hour,
		minute: minute,
		loc:    loc,
	}
}

// Spec 秒级 cron 表达式
func (t *SyncTask) Spec() string {
	return fmt.Sprintf("0 %d %d * * *", t.minute, t.hour)
}

// Start 注册定时任务；今天的时间点已过则从明天开始
func (t *SyncTask) Start() error {
	if _, err := t.Cron.AddFunc(t.Spec(), t.runJob); err != nil {
		return fmt.Errorf("注册同步定时任务失败: %w", err)
	}
	t.Cron.Start()

	next := NextRunAt(time.Now(), t.hour, t.minute, t.loc)
	log.Printf("[SyncTask] 定时同步已启动 (每天 %02d:%02d %s)，下次执行: %s",
		t.hour, t.minute, t.loc, next.Format(time.DateTime))
	return nil
}

// Stop 等待正在执行的任务结束
func (t *SyncTask) Stop() {
	<-t.Cron.Stop().Done()
	log.Println("[SyncTask] 定时同步已停止")
}

// RunNow 手动触发，调用方断开不会中断同步
func (t *SyncTask) RunNow(ctx context.Context) (*service.SyncResult, error) {
	return runManual(ctx, t.syncer)
}

// runManual 脱离请求的取消，最长运行 runTimeout
func runManual(ctx context.Context, syncer Syncer) (*service.SyncResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runTimeout)
	defer cancel()
	return syncer.Run(ctx, service.TriggerManual)
}

func (t *SyncTask) runJob() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	res, err := t.syncer.Run(ctx, service.TriggerSchedule)
	if err != nil {
		log.Printf("[SyncTask] 定时同步失败: %v", err)
		return
	}
	if res.LockHeld {
		log.Println("[SyncTask] 已有同步在运行，本轮跳过")
		return
	}
	log.Printf("[SyncTask] 定时同步完成: 更新 %d, 失败 %d", res.Updated, len(res.Failures))
}

// NextRunAt 下一次 hour:minute（loc 时区），不含 now 本身
func NextRunAt(now time.Time, hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}
