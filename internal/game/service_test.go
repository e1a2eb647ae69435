package game

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"copycatch/internal/config"
	"copycatch/internal/db"
	"copycatch/internal/ledger"
	"copycatch/internal/queue"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("skipping test; TEST_DATABASE_URL is not set")
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Skipf("skipping test; database unavailable: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := conn.Exec(`TRUNCATE players, rounds, phrasesets, votes, result_views, transactions, events, prompt_libraries RESTART IDENTITY CASCADE`).Error; err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return conn
}

func newTestService(t *testing.T, conn *gorm.DB, cfg config.Config) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	led := ledger.New(conn, logger)
	pq := queue.New(
		cfg.QueueDiscountThreshold,
		time.Duration(cfg.RecentCopyWindowSeconds)*time.Second,
		time.Duration(cfg.ReclaimCooldownSeconds)*time.Second,
	)
	return NewService(conn, cfg, led, pq, logger)
}

func seedPrompt(t *testing.T, conn *gorm.DB, text string) {
	t.Helper()
	if err := conn.Create(&db.PromptLibrary{Text: text}).Error; err != nil {
		t.Fatalf("seed prompt: %v", err)
	}
}

func mustCreatePlayer(t *testing.T, svc *Service, name string) *db.Player {
	t.Helper()
	player, err := svc.CreatePlayer(context.Background(), name)
	if err != nil {
		t.Fatalf("create player %s: %v", name, err)
	}
	return player
}

func mustBalance(t *testing.T, svc *Service, playerID uint) (int64, int64) {
	t.Helper()
	player, err := svc.GetPlayer(context.Background(), playerID)
	if err != nil {
		t.Fatalf("get player %d: %v", playerID, err)
	}
	return player.Balance, player.LockedBalance
}

// buildPhraseset drives one prompt and two copies through the round flow
// and returns the resulting phraseset.
func buildPhraseset(t *testing.T, svc *Service, prompt, copy1, copy2 *db.Player) *db.Phraseset {
	t.Helper()
	ctx := context.Background()

	promptRound, err := svc.StartRound(ctx, prompt.ID, db.RoundTypePrompt)
	if err != nil {
		t.Fatalf("start prompt round: %v", err)
	}
	if _, err := svc.SubmitRound(ctx, promptRound.ID, prompt.ID, "a quiet harbor at dawn"); err != nil {
		t.Fatalf("submit prompt round: %v", err)
	}

	copyRound1, err := svc.StartRound(ctx, copy1.ID, db.RoundTypeCopy)
	if err != nil {
		t.Fatalf("start first copy round: %v", err)
	}
	if copyRound1.TargetRoundID == nil || *copyRound1.TargetRoundID != promptRound.ID {
		t.Fatalf("first copy targets round %v, want %d", copyRound1.TargetRoundID, promptRound.ID)
	}
	if _, err := svc.SubmitRound(ctx, copyRound1.ID, copy1.ID, "the still port at sunrise"); err != nil {
		t.Fatalf("submit first copy: %v", err)
	}

	copyRound2, err := svc.StartRound(ctx, copy2.ID, db.RoundTypeCopy)
	if err != nil {
		t.Fatalf("start second copy round: %v", err)
	}
	if _, err := svc.SubmitRound(ctx, copyRound2.ID, copy2.ID, "a sleepy dock before sunrise"); err != nil {
		t.Fatalf("submit second copy: %v", err)
	}

	var set db.Phraseset
	if err := svc.db.Where("prompt_round_id = ?", promptRound.ID).First(&set).Error; err != nil {
		t.Fatalf("load phraseset: %v", err)
	}
	return &set
}

func TestPromptCopyFlowCreatesPhraseset(t *testing.T) {
	conn := openTestDB(t)
	cfg := config.Default()
	svc := newTestService(t, conn, cfg)
	seedPrompt(t, conn, "Describe your favorite place")

	alice := mustCreatePlayer(t, svc, "alice")
	bob := mustCreatePlayer(t, svc, "bob")
	carol := mustCreatePlayer(t, svc, "carol")

	set := buildPhraseset(t, svc, alice, bob, carol)

	if set.Status != db.PhrasesetStatusOpen {
		t.Errorf("phraseset status = %s, want open", set.Status)
	}
	wantPool := cfg.PromptCost + 2*cfg.CopyCost + cfg.SystemContribution
	if set.TotalPool != wantPool {
		t.Errorf("total pool = %d, want %d", set.TotalPool, wantPool)
	}
	if set.PromptPlayerID != alice.ID || set.Copy1PlayerID != bob.ID || set.Copy2PlayerID != carol.ID {
		t.Errorf("contributors = %d/%d/%d, want %d/%d/%d",
			set.PromptPlayerID, set.Copy1PlayerID, set.Copy2PlayerID, alice.ID, bob.ID, carol.ID)
	}
	if set.OriginalPhrase != "a quiet harbor at dawn" {
		t.Errorf("original phrase = %q", set.OriginalPhrase)
	}

	if balance, _ := mustBalance(t, svc, alice.ID); balance != cfg.StartingBalance-cfg.PromptCost {
		t.Errorf("alice balance = %d, want %d", balance, cfg.StartingBalance-cfg.PromptCost)
	}
	if balance, _ := mustBalance(t, svc, bob.ID); balance != cfg.StartingBalance-cfg.CopyCost {
		t.Errorf("bob balance = %d, want %d", balance, cfg.StartingBalance-cfg.CopyCost)
	}
}

func TestStartRoundRejectsSecondActiveRound(t *testing.T) {
	conn := openTestDB(t)
	svc := newTestService(t, conn, config.Default())
	seedPrompt(t, conn, "Name a thing you would never lend out")

	alice := mustCreatePlayer(t, svc, "alice")
	if _, err := svc.StartRound(context.Background(), alice.ID, db.RoundTypePrompt); err != nil {
		t.Fatalf("start prompt round: %v", err)
	}
	if _, err := svc.StartRound(context.Background(), alice.ID, db.RoundTypePrompt); err != ErrAlreadyInRound {
		t.Fatalf("second start = %v, want ErrAlreadyInRound", err)
	}
}

func TestAbandonRoundRefundsMinusPenalty(t *testing.T) {
	conn := openTestDB(t)
	cfg := config.Default()
	svc := newTestService(t, conn, cfg)
	seedPrompt(t, conn, "Invent a holiday")

	alice := mustCreatePlayer(t, svc, "alice")
	round, err := svc.StartRound(context.Background(), alice.ID, db.RoundTypePrompt)
	if err != nil {
		t.Fatalf("start round: %v", err)
	}
	abandoned, refund, penalty, err := svc.AbandonRound(context.Background(), round.ID, alice.ID)
	if err != nil {
		t.Fatalf("abandon round: %v", err)
	}
	if abandoned.Status != db.RoundStatusAbandoned {
		t.Errorf("status = %s, want abandoned", abandoned.Status)
	}
	if refund != cfg.PromptCost-cfg.AbandonPenalty || penalty != cfg.AbandonPenalty {
		t.Errorf("refund/penalty = %d/%d, want %d/%d",
			refund, penalty, cfg.PromptCost-cfg.AbandonPenalty, cfg.AbandonPenalty)
	}
	wantBalance := cfg.StartingBalance - cfg.AbandonPenalty
	if balance, _ := mustBalance(t, svc, alice.ID); balance != wantBalance {
		t.Errorf("balance = %d, want %d", balance, wantBalance)
	}
	player, err := svc.GetPlayer(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if player.CurrentRoundID != nil {
		t.Errorf("current round still set to %d", *player.CurrentRoundID)
	}
}

func TestRoundExpiresLazilyOnRead(t *testing.T) {
	conn := openTestDB(t)
	cfg := config.Default()
	svc := newTestService(t, conn, cfg)
	seedPrompt(t, conn, "Describe a sound you hate")

	alice := mustCreatePlayer(t, svc, "alice")
	round, err := svc.StartRound(context.Background(), alice.ID, db.RoundTypePrompt)
	if err != nil {
		t.Fatalf("start round: %v", err)
	}

	base := svc.now()
	svc.now = func() time.Time {
		return base.Add(time.Duration(cfg.PromptTTLSeconds+cfg.GraceSeconds)*time.Second + time.Second)
	}

	loaded, err := svc.GetRound(context.Background(), round.ID)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if loaded.Status != db.RoundStatusExpired {
		t.Errorf("status = %s, want expired", loaded.Status)
	}
	if balance, _ := mustBalance(t, svc, alice.ID); balance != cfg.StartingBalance-cfg.PromptCost {
		t.Errorf("expiry must not refund; balance = %d", balance)
	}
	player, err := svc.GetPlayer(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if player.CurrentRoundID != nil {
		t.Errorf("current round still set after expiry")
	}
}

func TestSubmitWithinGraceSucceeds(t *testing.T) {
	conn := openTestDB(t)
	cfg := config.Default()
	svc := newTestService(t, conn, cfg)
	seedPrompt(t, conn, "Describe a smell from childhood")

	alice := mustCreatePlayer(t, svc, "alice")
	round, err := svc.StartRound(context.Background(), alice.ID, db.RoundTypePrompt)
	if err != nil {
		t.Fatalf("start round: %v", err)
	}

	base := svc.now()
	svc.now = func() time.Time {
		return base.Add(time.Duration(cfg.PromptTTLSeconds)*time.Second + time.Duration(cfg.GraceSeconds/2)*time.Second)
	}
	if _, err := svc.SubmitRound(context.Background(), round.ID, alice.ID, "fresh bread"); err != nil {
		t.Fatalf("submit within grace = %v, want success", err)
	}
}

func TestVoteLifecycleAndFinalization(t *testing.T) {
	conn := openTestDB(t)
	cfg := config.Default()
	cfg.VoteHardCap = 3
	svc := newTestService(t, conn, cfg)
	seedPrompt(t, conn, "Describe the perfect morning")
	ctx := context.Background()

	alice := mustCreatePlayer(t, svc, "alice")
	bob := mustCreatePlayer(t, svc, "bob")
	carol := mustCreatePlayer(t, svc, "carol")
	set := buildPhraseset(t, svc, alice, bob, carol)

	dave := mustCreatePlayer(t, svc, "dave")
	erin := mustCreatePlayer(t, svc, "erin")
	frank := mustCreatePlayer(t, svc, "frank")

	// A contributor cannot be offered their own phraseset.
	if _, err := svc.StartRound(ctx, alice.ID, db.RoundTypeVote); err != ErrNoItemsAvailable {
		t.Fatalf("contributor vote start = %v, want ErrNoItemsAvailable", err)
	}

	// First voter guesses the original and is paid the fixed reward.
	daveRound, err := svc.StartRound(ctx, dave.ID, db.RoundTypeVote)
	if err != nil {
		t.Fatalf("start dave vote round: %v", err)
	}
	if daveRound.PhrasesetID == nil || *daveRound.PhrasesetID != set.ID {
		t.Fatalf("dave assigned phraseset %v, want %d", daveRound.PhrasesetID, set.ID)
	}
	vote, err := svc.SubmitVote(ctx, daveRound.ID, set.ID, set.OriginalPhrase, dave.ID)
	if err != nil {
		t.Fatalf("dave vote: %v", err)
	}
	if !vote.Correct || vote.Payout != cfg.VotePayout {
		t.Errorf("dave vote correct=%v payout=%d, want true/%d", vote.Correct, vote.Payout, cfg.VotePayout)
	}
	wantDave := cfg.StartingBalance - cfg.VoteCost + cfg.VotePayout
	if balance, _ := mustBalance(t, svc, dave.ID); balance != wantDave {
		t.Errorf("dave balance = %d, want %d", balance, wantDave)
	}

	// A second submission on the same round is rejected.
	if _, err := svc.SubmitVote(ctx, daveRound.ID, set.ID, set.OriginalPhrase, dave.ID); err != ErrAlreadyVoted {
		t.Errorf("repeat vote = %v, want ErrAlreadyVoted", err)
	}

	// A phrase outside the candidate set is rejected without consuming
	// the round.
	erinRound, err := svc.StartRound(ctx, erin.ID, db.RoundTypeVote)
	if err != nil {
		t.Fatalf("start erin vote round: %v", err)
	}
	if _, err := svc.SubmitVote(ctx, erinRound.ID, set.ID, "not a candidate", erin.ID); err != ErrInvalidPhrase {
		t.Fatalf("bogus phrase = %v, want ErrInvalidPhrase", err)
	}
	if _, err := svc.SubmitVote(ctx, erinRound.ID, set.ID, set.Copy1Phrase, erin.ID); err != nil {
		t.Fatalf("erin vote: %v", err)
	}

	// Third vote reaches the hard cap and finalizes in the same
	// transaction.
	frankRound, err := svc.StartRound(ctx, frank.ID, db.RoundTypeVote)
	if err != nil {
		t.Fatalf("start frank vote round: %v", err)
	}
	if _, err := svc.SubmitVote(ctx, frankRound.ID, set.ID, set.Copy1Phrase, frank.ID); err != nil {
		t.Fatalf("frank vote: %v", err)
	}

	final, err := svc.GetPhraseset(ctx, set.ID)
	if err != nil {
		t.Fatalf("reload phraseset: %v", err)
	}
	if final.Status != db.PhrasesetStatusFinalized {
		t.Fatalf("status = %s, want finalized", final.Status)
	}

	// Pool: 200 base + 3 vote costs - 1 correct payout = 205.
	// Points: original 1x1=1, copy1 2x2=4, copy2 0; shares 41/164/0.
	wantPool := cfg.PromptCost + 2*cfg.CopyCost + 3*cfg.VoteCost - cfg.VotePayout
	if final.TotalPool != wantPool {
		t.Errorf("final pool = %d, want %d", final.TotalPool, wantPool)
	}

	payout, already, err := svc.ClaimResult(ctx, set.ID, alice.ID)
	if err != nil || already {
		t.Fatalf("alice claim = %d/%v/%v", payout, already, err)
	}
	if payout != wantPool*1/5 {
		t.Errorf("alice payout = %d, want %d", payout, wantPool*1/5)
	}
	payoutAgain, already, err := svc.ClaimResult(ctx, set.ID, alice.ID)
	if err != nil || !already || payoutAgain != payout {
		t.Errorf("repeat claim = %d/%v/%v, want %d/true/nil", payoutAgain, already, err, payout)
	}

	bobPayout, _, err := svc.ClaimResult(ctx, set.ID, bob.ID)
	if err != nil {
		t.Fatalf("bob claim: %v", err)
	}
	if bobPayout != wantPool*4/5 {
		t.Errorf("bob payout = %d, want %d", bobPayout, wantPool*4/5)
	}

	// Bob's payout exceeds his cost: the profit splits between wallets.
	wantLiquidGain, wantLocked := splitPayout(bobPayout, cfg.CopyCost, cfg.ProfitLiquidPercent)
	bobBalance, bobLocked := mustBalance(t, svc, bob.ID)
	if bobBalance != cfg.StartingBalance-cfg.CopyCost+wantLiquidGain {
		t.Errorf("bob liquid = %d, want %d", bobBalance, cfg.StartingBalance-cfg.CopyCost+wantLiquidGain)
	}
	if bobLocked != wantLocked {
		t.Errorf("bob locked = %d, want %d", bobLocked, wantLocked)
	}

	if _, _, err := svc.ClaimResult(ctx, set.ID, dave.ID); err != ErrNotParticipant {
		t.Errorf("voter claim = %v, want ErrNotParticipant", err)
	}

	if err := svc.AcknowledgeResult(ctx, set.ID, alice.ID); err != nil {
		t.Errorf("acknowledge: %v", err)
	}
	if err := svc.AcknowledgeResult(ctx, set.ID, dave.ID); err != ErrNotParticipant {
		t.Errorf("voter acknowledge = %v, want ErrNotParticipant", err)
	}

	// Money conservation: every coin left someone's wallet for the pool
	// or came back out of it; the distributed shares drained it fully.
	var players []db.Player
	if err := conn.Find(&players).Error; err != nil {
		t.Fatalf("load players: %v", err)
	}
	var total int64
	for _, p := range players {
		total += p.Balance + p.LockedBalance
	}
	want := int64(len(players)) * cfg.StartingBalance
	if total != want {
		t.Errorf("total money = %d, want %d", total, want)
	}
}

func TestSweepFinalizesAfterClosingWindow(t *testing.T) {
	conn := openTestDB(t)
	cfg := config.Default()
	svc := newTestService(t, conn, cfg)
	seedPrompt(t, conn, "Describe an unforgettable meal")
	ctx := context.Background()

	alice := mustCreatePlayer(t, svc, "alice")
	bob := mustCreatePlayer(t, svc, "bob")
	carol := mustCreatePlayer(t, svc, "carol")
	set := buildPhraseset(t, svc, alice, bob, carol)

	// Five votes move the set to closing without finalizing it.
	for i, name := range []string{"dave", "erin", "frank", "grace", "heidi"} {
		voter := mustCreatePlayer(t, svc, name)
		round, err := svc.StartRound(ctx, voter.ID, db.RoundTypeVote)
		if err != nil {
			t.Fatalf("start vote round %d: %v", i, err)
		}
		if _, err := svc.SubmitVote(ctx, round.ID, set.ID, set.OriginalPhrase, voter.ID); err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}
	closing, err := svc.GetPhraseset(ctx, set.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if closing.Status != db.PhrasesetStatusClosing {
		t.Fatalf("status after fifth vote = %s, want closing", closing.Status)
	}

	base := svc.now()
	svc.now = func() time.Time {
		return base.Add(time.Duration(cfg.ClosingWindowSeconds)*time.Second + time.Minute)
	}
	finalized, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if finalized != 1 {
		t.Fatalf("sweep finalized %d sets, want 1", finalized)
	}
	final, err := svc.GetPhraseset(ctx, set.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if final.Status != db.PhrasesetStatusFinalized {
		t.Errorf("status = %s, want finalized", final.Status)
	}
}

func TestCreatePlayerRejectsDuplicateName(t *testing.T) {
	conn := openTestDB(t)
	svc := newTestService(t, conn, config.Default())

	first := mustCreatePlayer(t, svc, "alice")
	if first.Balance != config.Default().StartingBalance {
		t.Errorf("starting balance = %d", first.Balance)
	}
	if _, err := svc.CreatePlayer(context.Background(), "alice"); err != ErrNameTaken {
		t.Errorf("duplicate name = %v, want ErrNameTaken", err)
	}
}

func TestSubmitVoteRejectsContributor(t *testing.T) {
	conn := openTestDB(t)
	cfg := config.Default()
	svc := newTestService(t, conn, cfg)
	seedPrompt(t, conn, "Describe a long wait")
	ctx := context.Background()

	alice := mustCreatePlayer(t, svc, "alice")
	bob := mustCreatePlayer(t, svc, "bob")
	carol := mustCreatePlayer(t, svc, "carol")
	set := buildPhraseset(t, svc, alice, bob, carol)

	// Assignment never offers contributors their own set, so reach the
	// in-transaction guard with a directly inserted vote round.
	round := db.Round{
		PlayerID:    alice.ID,
		Type:        db.RoundTypeVote,
		Status:      db.RoundStatusActive,
		Cost:        cfg.VoteCost,
		ExpiresAt:   svc.now().Add(time.Duration(cfg.VoteTTLSeconds) * time.Second),
		PhrasesetID: &set.ID,
	}
	if err := conn.Create(&round).Error; err != nil {
		t.Fatalf("insert vote round: %v", err)
	}
	if _, err := svc.SubmitVote(ctx, round.ID, set.ID, set.OriginalPhrase, alice.ID); err != ErrSelfVote {
		t.Fatalf("contributor vote = %v, want ErrSelfVote", err)
	}
	reloaded, err := svc.GetPhraseset(ctx, set.ID)
	if err != nil {
		t.Fatalf("reload phraseset: %v", err)
	}
	if reloaded.VoteCount != 0 {
		t.Errorf("vote count = %d, want 0 after rejected self-vote", reloaded.VoteCount)
	}
}

func TestFailedCopyStartReleasesQueueReservation(t *testing.T) {
	conn := openTestDB(t)
	cfg := config.Default()
	svc := newTestService(t, conn, cfg)
	seedPrompt(t, conn, "Describe a near miss")
	ctx := context.Background()

	alice := mustCreatePlayer(t, svc, "alice")
	promptRound, err := svc.StartRound(ctx, alice.ID, db.RoundTypePrompt)
	if err != nil {
		t.Fatalf("start prompt round: %v", err)
	}
	if _, err := svc.SubmitRound(ctx, promptRound.ID, alice.ID, "the bus pulled away"); err != nil {
		t.Fatalf("submit prompt: %v", err)
	}

	// A player who cannot afford the copy cost, created through a
	// low-grant service sharing the database.
	poorCfg := cfg
	poorCfg.StartingBalance = cfg.CopyCostDiscounted - 1
	poor := mustCreatePlayer(t, newTestService(t, conn, poorCfg), "poor")

	// A fresh service has an empty queue, so the copy start goes through
	// the database fallback before the charge fails and rolls back.
	cold := newTestService(t, conn, cfg)
	if _, err := cold.StartRound(ctx, poor.ID, db.RoundTypeCopy); err != ErrInsufficientBalance {
		t.Fatalf("broke copy start = %v, want ErrInsufficientBalance", err)
	}

	// The fallback re-seeded the queue; the rolled-back start must not
	// leave a pending reservation, so both slots stay acquirable.
	q := cold.Queue()
	if id, ok := q.Acquire(9001); !ok || id != promptRound.ID {
		t.Fatalf("first acquire = %d/%v, want %d/true", id, ok, promptRound.ID)
	}
	if id, ok := q.Acquire(9002); !ok || id != promptRound.ID {
		t.Fatalf("second acquire = %d/%v, want %d/true", id, ok, promptRound.ID)
	}
}

func TestCopySubmitRejectsDuplicatePhrase(t *testing.T) {
	conn := openTestDB(t)
	svc := newTestService(t, conn, config.Default())
	seedPrompt(t, conn, "Describe a storm")
	ctx := context.Background()

	alice := mustCreatePlayer(t, svc, "alice")
	bob := mustCreatePlayer(t, svc, "bob")

	promptRound, err := svc.StartRound(ctx, alice.ID, db.RoundTypePrompt)
	if err != nil {
		t.Fatalf("start prompt round: %v", err)
	}
	if _, err := svc.SubmitRound(ctx, promptRound.ID, alice.ID, "thunder over the hills"); err != nil {
		t.Fatalf("submit prompt: %v", err)
	}
	copyRound, err := svc.StartRound(ctx, bob.ID, db.RoundTypeCopy)
	if err != nil {
		t.Fatalf("start copy round: %v", err)
	}
	if _, err := svc.SubmitRound(ctx, copyRound.ID, bob.ID, "Thunder Over The Hills"); err != ErrInvalidPayload {
		t.Fatalf("duplicate copy phrase = %v, want ErrInvalidPayload", err)
	}
}
