// Command echoclient connects to an echoserver instance, sends a few Msg
// and Request frames, and prints every event it observes.
package main

import (
	"crypto/rand"
	"flag"
	"log"
	"time"

	"github.com/whisper/simplenet/auth"
	"github.com/whisper/simplenet/factory"
	"github.com/whisper/simplenet/simplenetclient"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8080/ws", "server websocket URL")
	flag.Parse()

	var id auth.ClientID
	if _, err := rand.Read(id[:]); err != nil {
		log.Fatalf("echoclient: generating client id: %v", err)
	}

	cf := factory.NewClientFactory("1.0.0")
	cfg := simplenetclient.DefaultConfig("1.0.0")
	authReq := auth.Request{Kind: auth.KindNone, ClientID: id}

	client := cf.NewClient(*url, id, authReq, []byte(`{}`), cfg)
	log.Printf("echoclient: dialing %s as %s", *url, id)

	go func() {
		for {
			e, ok := client.Next()
			if !ok {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			log.Printf("echoclient: event kind=%s payload=%q request_id=%d", e.Kind, e.Payload, e.RequestID)
			if e.Kind == simplenetclient.EventIsDead {
				return
			}
		}
	}()

	for !client.IsConnected() && !client.IsDead() {
		time.Sleep(10 * time.Millisecond)
	}

	_ = client.Send([]byte("hello"))
	if _, err := client.Request([]byte("ping")); err != nil {
		log.Printf("echoclient: request failed: %v", err)
	}

	time.Sleep(2 * time.Second)
	_ = client.Close()
	time.Sleep(500 * time.Millisecond)
}
