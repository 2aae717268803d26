package flowengine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/counter"
	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/flowgraph"
	"github.com/atharva20-coder/swoopin-sub002/transcript"
)

// Branch handles emitted by condition nodes.
const (
	BranchMatch   = "match"
	BranchNoMatch = "nomatch"
)

// Messenger delivers outbound actions on a page.
type Messenger interface {
	SendDM(ctx context.Context, pageID, recipientID, text string) error
	ReplyComment(ctx context.Context, pageID, commentID, text string) error
	PostCarousel(ctx context.Context, pageID, recipientID, templateID string) error
}

// AIResponder generates AI replies. It matches the continuation handler's
// port so one provider client serves both.
type AIResponder = transcript.AIResponder

// ExecutorDeps carries the collaborators the built-in executors use.
type ExecutorDeps struct {
	Messenger   Messenger
	AI          AIResponder
	Transcripts transcript.Store
	Counters    counter.Store
	Logger      *slog.Logger
}

// RegisterDefaults installs the built-in executors for every known node
// type and subtype.
func RegisterDefaults(r *Registry, deps ExecutorDeps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r.Register(automation.NodeTrigger, "", execTrigger)
	r.Register(automation.NodeCondition, automation.SubTypeKeywords, execKeywords)
	r.Register(automation.NodeCondition, automation.SubTypeSmartAI, execSmartAICondition(deps))
	r.Register(automation.NodeAction, automation.SubTypeSendDM, execSendDM(deps))
	r.Register(automation.NodeAction, automation.SubTypeSmartAI, execSmartAI(deps))
	r.Register(automation.NodeAction, automation.SubTypeCarousel, execCarousel(deps))
	r.Register(automation.NodeAction, automation.SubTypeCommentReply, execCommentReply(deps))
}

// execTrigger passes through. The matcher already decided this automation
// fires; the trigger node only anchors the graph.
func execTrigger(_ context.Context, _ *ExecutionContext, _ *flowgraph.Node) (NodeResult, error) {
	return NodeResult{Status: NodeSucceeded, Summary: "triggered"}, nil
}

// execKeywords branches on whether the event text contains any of the
// node's keywords.
func execKeywords(_ context.Context, ec *ExecutionContext, node *flowgraph.Node) (NodeResult, error) {
	text := strings.ToLower(ec.Event.Text)
	if node.Keywords != nil {
		for _, kw := range node.Keywords.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				return NodeResult{Status: NodeSucceeded, Branch: BranchMatch, Summary: "keyword " + kw}, nil
			}
		}
	}
	return NodeResult{Status: NodeSucceeded, Branch: BranchNoMatch, Summary: "no keyword"}, nil
}

func execSendDM(deps ExecutorDeps) Executor {
	return func(ctx context.Context, ec *ExecutionContext, node *flowgraph.Node) (NodeResult, error) {
		msg := ""
		if node.SendDM != nil {
			msg = node.SendDM.Message
		}
		if msg == "" {
			return NodeResult{Status: NodeFatal, Summary: "empty message"},
				errors.WrapInvalid(errors.New("send_dm node has no message"), "flowengine", "execSendDM", "read config")
		}
		if err := deps.Messenger.SendDM(ctx, ec.Event.PageID, ec.Event.SenderID, msg); err != nil {
			return nodeFailure(err), errors.Wrap(err, "flowengine", "execSendDM", "send dm")
		}
		if err := deps.Counters.IncrementDM(ctx, ec.Automation.ID); err != nil {
			deps.Logger.Error("dm counter increment failed", "automation_id", ec.Automation.ID, "error", err)
		}
		return NodeResult{Status: NodeSucceeded, Summary: "dm sent"}, nil
	}
}

// execSmartAICondition runs the AI reply like the action form but emits the
// match branch, so a SMARTAI placed as a condition can feed downstream edges.
func execSmartAICondition(deps ExecutorDeps) Executor {
	act := execSmartAI(deps)
	return func(ctx context.Context, ec *ExecutionContext, node *flowgraph.Node) (NodeResult, error) {
		res, err := act(ctx, ec, node)
		if err == nil && res.Status == NodeSucceeded {
			res.Branch = BranchMatch
		}
		return res, err
	}
}

func execSmartAI(deps ExecutorDeps) Executor {
	return func(ctx context.Context, ec *ExecutionContext, node *flowgraph.Node) (NodeResult, error) {
		// Validation gates this at save time; an automation saved before a
		// downgrade can still reach here.
		if !ec.Limits.AIEnabled {
			return NodeResult{Status: NodeFatal, Summary: "plan has no AI"},
				errors.WrapInvalid(errors.ErrPlanRestricted, "flowengine", "execSmartAI", "check plan")
		}
		if ec.Limits.MonthlyAIResponses > 0 {
			counts, err := deps.Counters.Get(ctx, ec.Automation.ID)
			if err != nil {
				return nodeFailure(err), err
			}
			if counts.AICount >= int64(ec.Limits.MonthlyAIResponses) {
				return NodeResult{Status: NodeFatal, Summary: "ai quota exhausted"},
					errors.WrapInvalid(errors.ErrQuotaExceeded, "flowengine", "execSmartAI", "check quota")
			}
		}

		prompt := ""
		if node.SmartAI != nil {
			prompt = node.SmartAI.Prompt
		}
		if prompt == "" && ec.Automation.Listener != nil {
			prompt = ec.Automation.Listener.Prompt
		}

		history, err := deps.Transcripts.History(ctx, ec.Automation.ID, ec.Event.SenderID)
		if err != nil {
			return nodeFailure(err), err
		}

		reply, err := deps.AI.Respond(ctx, prompt, history, ec.Event.Text)
		if err != nil {
			return nodeFailure(err), errors.Wrap(err, "flowengine", "execSmartAI", "generate reply")
		}
		if err := deps.Messenger.SendDM(ctx, ec.Event.PageID, ec.Event.SenderID, reply); err != nil {
			return nodeFailure(err), errors.Wrap(err, "flowengine", "execSmartAI", "send dm")
		}

		if err := deps.Transcripts.Append(ctx, ec.Automation.ID, ec.Event.SenderID,
			transcript.Entry{Role: transcript.RoleUser, Text: ec.Event.Text, At: ec.Event.ReceivedAt},
			transcript.Entry{Role: transcript.RoleAssistant, Text: reply, At: ec.Event.ReceivedAt},
		); err != nil {
			deps.Logger.Error("transcript append failed", "automation_id", ec.Automation.ID, "error", err)
		}
		if err := deps.Counters.IncrementDM(ctx, ec.Automation.ID); err != nil {
			deps.Logger.Error("dm counter increment failed", "automation_id", ec.Automation.ID, "error", err)
		}
		if err := deps.Counters.IncrementAI(ctx, ec.Automation.ID); err != nil {
			deps.Logger.Error("ai counter increment failed", "automation_id", ec.Automation.ID, "error", err)
		}
		return NodeResult{Status: NodeSucceeded, Summary: "ai dm sent"}, nil
	}
}

func execCarousel(deps ExecutorDeps) Executor {
	return func(ctx context.Context, ec *ExecutionContext, node *flowgraph.Node) (NodeResult, error) {
		if ec.Limits.MaxCarouselTemplates <= 0 {
			return NodeResult{Status: NodeFatal, Summary: "plan has no carousels"},
				errors.WrapInvalid(errors.ErrPlanRestricted, "flowengine", "execCarousel", "check plan")
		}
		templateID := ""
		if node.Carousel != nil {
			templateID = node.Carousel.TemplateID
		}
		if templateID == "" {
			return NodeResult{Status: NodeFatal, Summary: "no template"},
				errors.WrapInvalid(errors.New("carousel node has no template id"), "flowengine", "execCarousel", "read config")
		}
		if err := deps.Messenger.PostCarousel(ctx, ec.Event.PageID, ec.Event.SenderID, templateID); err != nil {
			return nodeFailure(err), errors.Wrap(err, "flowengine", "execCarousel", "post carousel")
		}
		if err := deps.Counters.IncrementDM(ctx, ec.Automation.ID); err != nil {
			deps.Logger.Error("dm counter increment failed", "automation_id", ec.Automation.ID, "error", err)
		}
		return NodeResult{Status: NodeSucceeded, Summary: "carousel sent"}, nil
	}
}

func execCommentReply(deps ExecutorDeps) Executor {
	return func(ctx context.Context, ec *ExecutionContext, node *flowgraph.Node) (NodeResult, error) {
		if !ec.Limits.CommentReplyEnabled {
			return NodeResult{Status: NodeFatal, Summary: "plan has no comment replies"},
				errors.WrapInvalid(errors.ErrPlanRestricted, "flowengine", "execCommentReply", "check plan")
		}
		if !ec.Event.IsCommentLike() || ec.Event.CommentID == "" {
			// A comment reply node in a DM flow has nothing to reply to;
			// skip it and keep walking.
			return NodeResult{Status: NodeSucceeded, Summary: "not a comment event"}, nil
		}
		msg := ""
		private := false
		if node.CommentReply != nil {
			msg = node.CommentReply.Message
			private = node.CommentReply.Private
		}
		if msg == "" && ec.Automation.Listener != nil {
			msg = ec.Automation.Listener.CommentReply
		}
		if msg == "" {
			return NodeResult{Status: NodeFatal, Summary: "empty reply"},
				errors.WrapInvalid(errors.New("comment_reply node has no message"), "flowengine", "execCommentReply", "read config")
		}
		if private {
			// Reply lands in the commenter's DMs, not the public thread.
			if err := deps.Messenger.SendDM(ctx, ec.Event.PageID, ec.Event.SenderID, msg); err != nil {
				return nodeFailure(err), errors.Wrap(err, "flowengine", "execCommentReply", "private reply")
			}
			if err := deps.Counters.IncrementDM(ctx, ec.Automation.ID); err != nil {
				deps.Logger.Error("dm counter increment failed", "automation_id", ec.Automation.ID, "error", err)
			}
			return NodeResult{Status: NodeSucceeded, Summary: "private reply sent"}, nil
		}
		if err := deps.Messenger.ReplyComment(ctx, ec.Event.PageID, ec.Event.CommentID, msg); err != nil {
			return nodeFailure(err), errors.Wrap(err, "flowengine", "execCommentReply", "reply comment")
		}
		if err := deps.Counters.IncrementComment(ctx, ec.Automation.ID); err != nil {
			deps.Logger.Error("comment counter increment failed", "automation_id", ec.Automation.ID, "error", err)
		}
		return NodeResult{Status: NodeSucceeded, Summary: "comment replied"}, nil
	}
}

func nodeFailure(err error) NodeResult {
	if errors.IsTransient(err) {
		return NodeResult{Status: NodeRetryable, Summary: err.Error()}
	}
	return NodeResult{Status: NodeFatal, Summary: err.Error()}
}
