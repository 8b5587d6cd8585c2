package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oxygene76/gravlens/internal/types"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8088/ws", "websocket endpoint of gravlens serve")
		count = flag.Int("count", 0, "exit after this many frames (0 = run until interrupted)")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		log.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	log.Printf("Connected to %s", *url)

	for n := 0; *count == 0 || n < *count; n++ {
		var frame types.FrameRecord
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Fatalf("read failed: %v", err)
		}

		fmt.Printf("#%-6d t=%8.3f bodies=%d absorbed=%-4d escaped=%-4d exhausted=%-4d compute=%.2fms\n",
			frame.Seq, frame.Time, len(frame.Bodies), frame.Absorbed, frame.Escaped, frame.Exhausted, frame.ComputeMS)
	}
}
