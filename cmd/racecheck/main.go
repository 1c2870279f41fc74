package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/park285/typerace/internal/raceclient"
	"github.com/park285/typerace/pkg/racedto"
	"github.com/valyala/fasthttp"
)

func main() {
	baseURL := strings.TrimRight(os.Getenv("RACE_BASE_URL"), "/")
	contestRaw := os.Getenv("RACE_CONTEST_ID")
	userRaw := os.Getenv("RACE_USER_ID")
	name := os.Getenv("RACE_USER_NAME")
	sendReady := strings.EqualFold(os.Getenv("RACE_READY"), "true")

	if baseURL == "" {
		log.Fatal("RACE_BASE_URL is required")
	}

	status, body, err := fasthttp.GetTimeout(nil, baseURL+"/healthz", 5*time.Second)
	if err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		log.Printf("/healthz status=%d body=%s", status, body)
	}

	if contestRaw == "" {
		log.Println("RACE_CONTEST_ID not set; skipping socket check")
		return
	}
	contestID, err := strconv.ParseInt(contestRaw, 10, 64)
	if err != nil {
		log.Fatalf("invalid RACE_CONTEST_ID: %v", err)
	}
	userID, err := strconv.ParseInt(userRaw, 10, 64)
	if err != nil || userID <= 0 || name == "" {
		log.Fatal("RACE_USER_ID and RACE_USER_NAME are required for the socket check")
	}

	watch := 10 * time.Second
	if v := os.Getenv("RACE_WATCH"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			watch = d
		}
	}

	c := raceclient.New(raceclient.ContestURL(baseURL, contestID), raceclient.Options{
		UserID:        userID,
		Name:          name,
		MaxReconnects: 5,
		BaseDelay:     time.Second,
	})
	c.OnStateChange(func(state raceclient.State) {
		log.Printf("WS state: %s", state)
	})
	c.OnEvent(func(ev *racedto.Envelope) {
		fmt.Printf("event contest=%d topic=%s payload=%s\n", ev.ContestID, ev.Topic, ev.Payload)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := c.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}
	if sendReady {
		if err := c.Ready(cctx); err != nil {
			log.Printf("ready error: %v", err)
		}
	}

	t := time.NewTimer(watch)
	<-t.C

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.Close(closeCtx)
}
