package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"realtime-service/internal/broadcast"
	"realtime-service/internal/emitter"
	"realtime-service/internal/event"
	"realtime-service/internal/reconcile"
	"realtime-service/internal/shared/jwt"
	"realtime-service/internal/shared/redisx"
)

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil && n > 0 {
		return n
	}
	return d
}

type viewer struct {
	name string
	rec  *reconcile.Reconciler
	post string
}

func main() {
	gofakeit.Seed(time.Now().UnixNano())

	baseURL := getenv("REALTIME_URL", "http://localhost:8090")
	wsURL := getenv("REALTIME_WS_URL", "ws://localhost:8090/ws")
	postsURL := getenv("POST_SERVICE_URL", "http://localhost:8082")
	redisAddr := getenv("REDIS_HOST", "localhost") + ":" + getenv("REDIS_PORT", "6379")
	nViewers := getenvInt("SEED_VIEWERS", 5)
	nMutations := getenvInt("SEED_MUTATIONS", 50)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Mint a token the realtime service accepts.
	token, err := jwt.Sign(getenv("JWT_SECRET", "dev-secret"), "seeder", time.Hour)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}

	rdb := redisx.Open(redisAddr)
	defer func() { _ = rdb.Close() }()

	// 2. Mount simulated viewers. Each one has its own broadcast
	// subscription and room socket.
	postIDs := []string{}
	for i := 0; i < 3; i++ {
		postIDs = append(postIDs, gofakeit.UUID())
	}
	viewers := make([]*viewer, 0, nViewers)
	for i := 0; i < nViewers; i++ {
		v := &viewer{name: gofakeit.Username(), post: postIDs[i%len(postIDs)]}
		v.rec = reconcile.New(
			reconcile.NewSnapshotClient(postsURL, token),
			broadcast.NewSubscriber(ctx, rdb, 0),
			reconcile.DialSocket(wsURL+"?token="+token, ""),
			reconcile.WithOnApply(func(ev event.FanOutEvent) {
				log.Printf("[%s] applied %s post=%s comment=%s", v.name, ev.Kind, ev.PostID, ev.CommentID)
			}),
		)
		if err := v.rec.Mount(ctx); err != nil {
			log.Printf("[%s] mount: %v", v.name, err)
		}
		if err := v.rec.OpenThread(ctx, v.post); err != nil {
			log.Printf("[%s] open thread: %v", v.name, err)
		}
		viewers = append(viewers, v)
	}
	time.Sleep(time.Second)

	// 3. Announce the posts so every feed has something to count likes on.
	for _, id := range postIDs {
		createPost(baseURL, token, id)
	}

	// 4. Random activity: likes, comments and an occasional delete.
	likes := map[string]int64{}
	for i := 0; i < nMutations; i++ {
		post := postIDs[gofakeit.Number(0, len(postIDs)-1)]
		switch gofakeit.Number(0, 9) {
		case 0:
			deletePost(baseURL, token, post)
			fresh := gofakeit.UUID()
			postIDs = append(postIDs, fresh)
			createPost(baseURL, token, fresh)
		case 1, 2, 3, 4:
			likes[post]++
			likePost(baseURL, token, post, likes[post])
		default:
			v := viewers[gofakeit.Number(0, len(viewers)-1)]
			commentPost(v)
		}
		time.Sleep(time.Duration(gofakeit.Number(20, 200)) * time.Millisecond)
	}
	time.Sleep(time.Second)

	// 5. Report what each viewer converged to.
	for _, v := range viewers {
		log.Printf("[%s] feed=%v thread(%s)=%d comments", v.name, v.rec.FeedIDs(), v.post, len(v.rec.ThreadIDs(v.post)))
		if err := v.rec.Unmount(context.Background()); err != nil {
			log.Printf("[%s] unmount: %v", v.name, err)
		}
	}
}

func emit(baseURL, token string, ev event.FanOutEvent) {
	data, _ := json.Marshal(emitter.Request{Event: ev})
	req, _ := http.NewRequest("POST", baseURL+"/events", bytes.NewBuffer(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Println("Error in emit:", err)
		return
	}
	defer resp.Body.Close()
	log.Printf("emit %s post=%s status: %s", ev.Kind, ev.PostID, resp.Status)
}

func createPost(baseURL, token, postID string) {
	ev, err := event.NewPost(postID, map[string]any{
		"id":         postID,
		"content":    gofakeit.Sentence(8),
		"author":     gofakeit.Name(),
		"likesCount": 0,
	})
	if err != nil {
		log.Println("Error in createPost:", err)
		return
	}
	emit(baseURL, token, ev)
}

func deletePost(baseURL, token, postID string) {
	emit(baseURL, token, event.DeletePost(postID))
}

func likePost(baseURL, token, postID string, count int64) {
	emit(baseURL, token, event.LikeCount(postID, count))
}

func commentPost(v *viewer) {
	id := fmt.Sprintf("c-%s", gofakeit.LetterN(8))
	err := v.rec.PublishComment(v.post, id, map[string]string{
		"text":   gofakeit.Sentence(6),
		"author": v.name,
	})
	if err != nil {
		log.Printf("[%s] comment: %v", v.name, err)
	}
}
