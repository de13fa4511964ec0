package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ldi/casegen/internal/api"
	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/internal/monitor"
	"github.com/ldi/casegen/internal/orchestrator"
	"github.com/ldi/casegen/internal/tracker"
	"github.com/ldi/casegen/internal/ui"
	"github.com/ldi/casegen/pkg/models"
)

// parseMode accepts the short names as well as the wire values.
func parseMode(s string) (models.GenerationMode, error) {
	switch s {
	case "points", string(models.ModeTestPointsOnly):
		return models.ModeTestPointsOnly, nil
	case "cases", string(models.ModeTestCasesOnly):
		return models.ModeTestCasesOnly, nil
	}
	return "", errs.Invalid("generation_mode", "无效的生成模式: %s", s)
}

// additionalContext joins a stored history context and free text.
func (a *app) additionalContext(ctx context.Context, name, text string) (string, error) {
	var parts []string
	if name = strings.TrimSpace(name); name != "" {
		hc, err := findContext(ctx, a.db, name)
		if err != nil {
			return "", err
		}
		parts = append(parts, hc.Content)
	}
	if text = strings.TrimSpace(text); text != "" {
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n"), nil
}

// businessType returns bt, or asks the user to pick from the generation catalogue.
func (a *app) businessType(ctx context.Context, bt string) (string, error) {
	if bt = strings.TrimSpace(bt); bt != "" {
		return bt, nil
	}
	types, err := a.svc.ListGenerationBusinessTypes(ctx, a.projectID(ctx))
	if err != nil {
		return "", err
	}
	items := make([]ui.Item, len(types))
	for i, t := range types {
		items[i] = ui.Item{Key: t.Code, Title: t.Code + "  " + t.Name, Description: oneLine(t.Description, 40)}
	}
	item, err := pickItem("请选择业务类型", items)
	if err != nil {
		return "", fmt.Errorf("failed to run business type picker: %w", err)
	}
	if item == nil {
		return "", errs.Invalid("business_type", "--bt is required")
	}
	return item.Key, nil
}

func (a *app) subscriber(ctx context.Context) orchestrator.Subscriber {
	if ws := a.websocket(ctx); ws != nil {
		return ws
	}
	return nil
}

func (a *app) trigger(ctx context.Context, bt string, mode models.GenerationMode, pointIDs []int64, addCtx string) (*models.GenerationResult, error) {
	projectID := a.projectID(ctx)
	opts := a.retryOptions()
	opts.Context = "生成任务"
	opts.Silent = true
	return errs.Retry(ctx, a.errs, opts, func(ctx context.Context) (*models.GenerationResult, error) {
		if mode == models.ModeTestCasesOnly {
			return a.svc.GenerateTestCasesFromPoints(ctx, bt, projectID, pointIDs, addCtx)
		}
		return a.svc.GenerateTestPoints(ctx, bt, projectID, addCtx)
	})
}

func runGenerate(ctx context.Context, a *app, args []string) error {
	fs := a.flags("generate")
	bt := fs.String("bt", "", "Business type code")
	modeFlag := fs.String("mode", "points", "points or cases")
	points := fs.String("points", "", "Comma-separated test point ids (cases mode)")
	ctxName := fs.String("context", "", "History context to send as additional context")
	text := fs.String("text", "", "Additional context text")
	wait := fs.Bool("wait", true, "Follow the task until it finishes")
	noTUI := fs.Bool("no-tui", false, "Print progress lines instead of the TUI")
	if err := fs.Parse(args); err != nil {
		return err
	}
	code, err := a.businessType(ctx, *bt)
	if err != nil {
		return err
	}
	mode, err := parseMode(*modeFlag)
	if err != nil {
		return err
	}
	addCtx, err := a.additionalContext(ctx, *ctxName, *text)
	if err != nil {
		return err
	}

	res, err := a.trigger(ctx, code, mode, api.ParseIDs(splitList(*points)), addCtx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "✓ Started task %s", res.TaskID)
	if res.Message != "" {
		fmt.Fprintf(a.out, " (%s)", res.Message)
	}
	fmt.Fprintln(a.out)

	if !*wait {
		a.tracker.Apply(models.Task{ID: res.TaskID, Status: res.Status, BusinessType: code}, tracker.SourceLocal)
		return nil
	}
	return a.watch(ctx, res.TaskID, *noTUI)
}

func (a *app) watch(ctx context.Context, taskID string, noTUI bool) error {
	var sub monitor.Subscriber
	if ws := a.websocket(ctx); ws != nil {
		sub = ws
	}
	mon := monitor.New(a.tracker, a.svc, sub, a.cfg.PollInterval, a.logger)
	mon.NoTUI = noTUI
	mon.SetOutput(a.out)

	task, err := mon.Run(ctx, taskID)
	if err != nil {
		if errors.Is(err, monitor.ErrTaskFailed) && task.Error != nil {
			return fmt.Errorf("task %s %s: %s", taskID, task.Status, *task.Error)
		}
		return err
	}
	if task.IsTerminal() {
		fmt.Fprintf(a.out, "✓ Task %s %s\n", task.ID, task.Status)
	} else {
		fmt.Fprintf(a.out, "Stopped watching task %s (%s, %d%%)\n", task.ID, task.Status, task.Progress)
	}
	return nil
}

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := a.flags("watch")
	noTUI := fs.Bool("no-tui", false, "Print progress lines instead of the TUI")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: casegen watch <task-id>")
	}
	return a.watch(ctx, fs.Arg(0), *noTUI)
}

func runCancel(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: casegen cancel <task-id>")
	}
	taskID := args[0]
	if err := a.svc.CancelTask(ctx, taskID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "✓ Cancel requested for %s\n", taskID)

	task, err := a.svc.GetTaskStatus(ctx, taskID)
	if err != nil {
		a.logger.Debug("status after cancel unavailable")
		return nil
	}
	a.tracker.Apply(*task, tracker.SourcePoll)
	fmt.Fprintf(a.out, "  status: %s\n", task.Status)
	return nil
}

func runTasks(ctx context.Context, a *app, args []string) error {
	fs := a.flags("tasks")
	status := fs.String("status", "", "pending, running, completed, failed or cancelled")
	bt := fs.String("bt", "", "Business type code")
	taskType := fs.String("type", "", "Task type")
	local := fs.Bool("local", false, "List the local history of finished tasks")
	page := fs.Int("page", 1, "Page number")
	size := fs.Int("size", 20, "Page size (max 100)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *local {
		tasks, err := a.db.ListTasks(ctx, models.TaskStatus(*status), *bt, *size)
		if err != nil {
			return err
		}
		printTaskHeader(a.out)
		for _, t := range tasks {
			printTask(a.out, *t)
		}
		fmt.Fprintf(a.out, "\n%d recorded\n", len(tasks))
		return nil
	}

	res, err := a.svc.ListTasks(ctx, models.TaskFilter{
		Status:       models.TaskStatus(*status),
		TaskType:     *taskType,
		BusinessType: *bt,
		ProjectID:    a.projectID(ctx),
		Page:         *page,
		Size:         *size,
	})
	if err != nil {
		return err
	}
	printTaskHeader(a.out)
	for _, t := range res.Items {
		a.tracker.Apply(t, tracker.SourcePoll)
		printTask(a.out, t)
	}
	printPage(a, res.Page, res.Pages, res.Total)
	return nil
}

func printTaskHeader(w io.Writer) {
	fmt.Fprintf(w, "%-36s %-10s %-5s %-8s %-16s %s\n", "TASK", "STATUS", "PCT", "BT", "UPDATED", "MESSAGE")
	fmt.Fprintln(w, strings.Repeat("-", 100))
}

func printTask(w io.Writer, t models.Task) {
	msg := t.Message
	if t.Error != nil && *t.Error != "" {
		msg = *t.Error
	}
	updated := "-"
	if !t.UpdatedAt.IsZero() {
		updated = t.UpdatedAt.Local().Format("01-02 15:04:05")
	}
	fmt.Fprintf(w, "%-36s %-10s %4d%% %-8s %-16s %s\n", t.ID, t.Status, t.Progress, orDash(t.BusinessType), updated, oneLine(msg, 40))
}

func (a *app) orchestrator(ctx context.Context, workers int) *orchestrator.Orchestrator {
	if workers < 1 {
		workers = a.cfg.Workers
	}
	return orchestrator.NewOrchestrator(a.svc, a.tracker, a.logger, orchestrator.Options{
		MaxWorkers:   workers,
		PollInterval: a.cfg.PollInterval,
		Retry:        a.retryOptions(),
		Handler:      a.errs,
		Subscriber:   a.subscriber(ctx),
	})
}

// runJob drives orch either behind the TUI or with plain progress lines.
func (a *app) runJob(ctx context.Context, orch *orchestrator.Orchestrator, title string, noTUI bool, job func(ctx context.Context) error) error {
	if !noTUI {
		return orchestrator.Run(ctx, orch, title, job)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range orch.Messages() {
			printProgress(a.out, msg)
		}
	}()
	err := job(ctx)
	<-done
	return err
}

func printProgress(w io.Writer, msg tea.Msg) {
	switch msg := msg.(type) {
	case orchestrator.WorkerStartedMsg:
		fmt.Fprintf(w, "[w%d] %s: 开始生成%s\n", msg.WorkerID, msg.BusinessType, msg.Stage.Label())
	case orchestrator.TaskStartedMsg:
		fmt.Fprintf(w, "[w%d] task %s\n", msg.WorkerID, msg.TaskID)
	case orchestrator.ProgressMsg:
		fmt.Fprintf(w, "[w%d] %-9s %3d%% %s\n", msg.WorkerID, msg.Task.Status, msg.Task.Progress, msg.Task.Message)
	case orchestrator.OutputMsg:
		fmt.Fprintf(w, "[w%d] %s\n", msg.WorkerID, msg.Output)
	case orchestrator.TaskCompletedMsg:
		if msg.Success {
			fmt.Fprintf(w, "[w%d] ✓ %s %s\n", msg.WorkerID, msg.BusinessType, msg.Stage.Label())
		} else {
			fmt.Fprintf(w, "[w%d] ✗ %s %s: %s\n", msg.WorkerID, msg.BusinessType, msg.Stage.Label(), errs.Translate(msg.Err))
		}
	case orchestrator.BatchDoneMsg:
		fmt.Fprintf(w, "--- 完成 %d · 失败 %d ---\n", msg.Succeeded, msg.Failed)
	}
}

func runBatch(ctx context.Context, a *app, args []string) error {
	fs := a.flags("batch")
	bts := fs.String("bts", "", "Comma-separated business type codes")
	modeFlag := fs.String("mode", "points", "points or cases")
	points := fs.String("points", "", "Comma-separated test point ids (cases mode)")
	ctxName := fs.String("context", "", "History context to send as additional context")
	text := fs.String("text", "", "Additional context text")
	workers := fs.Int("workers", 0, "Concurrent generations (defaults to the workers setting)")
	wait := fs.Bool("wait", true, "Follow every task until it finishes")
	noTUI := fs.Bool("no-tui", false, "Print progress lines instead of the TUI")
	if err := fs.Parse(args); err != nil {
		return err
	}
	businessTypes := append(splitList(*bts), fs.Args()...)
	if len(businessTypes) == 0 {
		return errs.Invalid("business_types", "at least one business type is required")
	}
	mode, err := parseMode(*modeFlag)
	if err != nil {
		return err
	}
	pointIDs := api.ParseIDs(splitList(*points))
	addCtx, err := a.additionalContext(ctx, *ctxName, *text)
	if err != nil {
		return err
	}

	if !*wait {
		return a.triggerAll(ctx, businessTypes, mode, pointIDs, addCtx)
	}

	orch := a.orchestrator(ctx, *workers)
	var results []orchestrator.ItemResult[models.Task]
	err = a.runJob(ctx, orch, "批量生成", *noTUI, func(ctx context.Context) error {
		var err error
		results, err = orch.RunBatch(ctx, orchestrator.BatchRequest{
			ProjectID:         a.projectID(ctx),
			BusinessTypes:     businessTypes,
			Mode:              mode,
			PointIDs:          pointIDs,
			AdditionalContext: addCtx,
		})
		return err
	})
	if err != nil {
		return err
	}
	return summarize(a.out, results)
}

// triggerAll starts one task per business type without following them.
func (a *app) triggerAll(ctx context.Context, businessTypes []string, mode models.GenerationMode, pointIDs []int64, addCtx string) error {
	results := orchestrator.HandleBatchGeneration(ctx, businessTypes,
		func(ctx context.Context, bt string) (*models.GenerationResult, error) {
			return a.trigger(ctx, bt, mode, pointIDs, addCtx)
		},
		orchestrator.Callbacks[*models.GenerationResult]{
			OnError: func(bt string, err error) {
				fmt.Fprintf(a.out, "✗ %s: %s\n", bt, errs.Translate(err))
			},
			OnProgress: func(done, total int) {
				a.logger.Debug(fmt.Sprintf("triggered %d/%d", done, total))
			},
		})

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		fmt.Fprintf(a.out, "✓ %s: task %s\n", r.Item, r.Result.TaskID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d generations failed to start", failed, len(results))
	}
	return nil
}

func summarize(w io.Writer, results []orchestrator.ItemResult[models.Task]) error {
	failed := orchestrator.Failed(results)
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "✗ %-10s %s\n", r.Item, errs.Translate(r.Err))
			continue
		}
		fmt.Fprintf(w, "✓ %-10s task %s %s\n", r.Item, r.Result.ID, r.Result.Status)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d generations failed", len(failed), len(results))
	}
	return nil
}

func runTwoStage(ctx context.Context, a *app, args []string) error {
	fs := a.flags("two-stage")
	bt := fs.String("bt", "", "Business type code")
	ctxName := fs.String("context", "", "History context to send as additional context")
	text := fs.String("text", "", "Additional context text")
	noTUI := fs.Bool("no-tui", false, "Print progress lines instead of the TUI")
	if err := fs.Parse(args); err != nil {
		return err
	}
	code, err := a.businessType(ctx, *bt)
	if err != nil {
		return err
	}
	addCtx, err := a.additionalContext(ctx, *ctxName, *text)
	if err != nil {
		return err
	}

	orch := a.orchestrator(ctx, 1)
	var res *orchestrator.TwoStageResult
	err = a.runJob(ctx, orch, "两阶段生成 "+code, *noTUI, func(ctx context.Context) error {
		var err error
		res, err = orch.RunTwoStage(ctx, code, a.projectID(ctx), addCtx)
		return err
	})
	if res != nil {
		if res.PointsTask.ID != "" {
			fmt.Fprintf(a.out, "测试点:   task %s %s\n", res.PointsTask.ID, res.PointsTask.Status)
		}
		if len(res.PointIDs) > 0 {
			fmt.Fprintf(a.out, "          %d test points\n", len(res.PointIDs))
		}
		if res.CasesTask.ID != "" {
			fmt.Fprintf(a.out, "测试用例: task %s %s\n", res.CasesTask.ID, res.CasesTask.Status)
		}
	}
	return err
}
