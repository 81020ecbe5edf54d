package test

import (
	"context"
	"fmt"
	"net/url"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type linkMailer struct {
	last string
}

func (m *linkMailer) Send(_ context.Context, msg goIdentity.MailMessage) error {
	link, err := url.Parse(msg.Data["reset_link"])
	if err != nil {
		return err
	}
	m.last = link.Query().Get("token")
	fmt.Println("reset mail sent to", msg.To)
	return nil
}

// ExampleEngine_RedeemReset walks a password reset from request to a
// rejected replay.
func ExampleEngine_RedeemReset() {
	mr, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := goIdentity.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.ResetToken.MinResponseTime = 0
	cfg.ResetToken.Jitter = 0
	cfg.ResetToken.Delivery = goIdentity.DeliverySync

	mailer := &linkMailer{}
	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(memory.New()).
		WithMailer(mailer).
		Build()
	if err != nil {
		panic(err)
	}
	defer engine.Close()

	ctx := context.Background()
	if _, err := engine.CreateUser(ctx, goIdentity.NewUser{
		Email: "alice@example.com",
		Role:  goIdentity.RoleManager,
	}); err != nil {
		panic(err)
	}

	_ = engine.RequestReset(ctx, "alice@example.com")
	_ = engine.RequestReset(ctx, "nobody@example.com")

	fmt.Println("redeem:", engine.RedeemReset(ctx, mailer.last, "a new passphrase") == nil)
	fmt.Println("replay:", goIdentity.PublicMessage(engine.RedeemReset(ctx, mailer.last, "another one")))

	// Output:
	// reset mail sent to alice@example.com
	// redeem: true
	// replay: link invalid or expired
}
