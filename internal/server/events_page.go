package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const eventsPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Doorman · Live Security Events</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --bg: #09090b; --bg-subtle: #18181b; --border: #27272a;
            --text: #fafafa; --text-secondary: #a1a1aa; --text-tertiary: #52525b;
            --accent: #22c55e; --warn: #f59e0b; --danger: #ef4444;
        }
        body {
            font-family: -apple-system, 'Segoe UI', sans-serif;
            background: var(--bg); color: var(--text);
            min-height: 100vh; font-size: 14px;
        }
        .mono { font-family: ui-monospace, monospace; }
        .container { max-width: 800px; margin: 0 auto; padding: 0 24px; }
        header { border-bottom: 1px solid var(--border); padding: 16px 0; }
        .header-inner { display: flex; justify-content: space-between; align-items: center; }
        .logo { font-weight: 600; font-size: 15px; }
        .live-badge {
            display: flex; align-items: center; gap: 8px;
            background: var(--bg-subtle); border: 1px solid var(--border);
            padding: 8px 14px; border-radius: 20px; font-size: 13px; color: var(--text-secondary);
        }
        .live-dot {
            width: 8px; height: 8px; background: var(--accent); border-radius: 50%;
            animation: pulse 2s ease-in-out infinite;
        }
        @keyframes pulse { 0%,100% { opacity: 1; } 50% { opacity: 0.4; } }
        .feed { padding: 24px 0; }
        .event {
            display: flex; gap: 12px; align-items: baseline;
            padding: 10px 0; border-bottom: 1px solid var(--border);
        }
        .event .type { min-width: 190px; color: var(--text-secondary); }
        .event .score { min-width: 40px; text-align: right; }
        .score.low { color: var(--accent); }
        .score.medium { color: var(--warn); }
        .score.high { color: var(--danger); }
        .event .user { color: var(--text-tertiary); }
        .empty { padding: 48px 0; color: var(--text-tertiary); text-align: center; }
    </style>
</head>
<body>
    <header>
        <div class="container header-inner">
            <span class="logo">Doorman</span>
            <span class="live-badge"><span class="live-dot"></span>live</span>
        </div>
    </header>
    <main class="container">
        <div class="feed" id="feed">
            <div class="empty" id="empty">Waiting for security events&hellip;</div>
        </div>
    </main>
    <script>
        const feed = document.getElementById('feed');
        const empty = document.getElementById('empty');
        const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
        const ws = new WebSocket(proto + '//' + location.host + '/v1/ws');
        ws.onopen = () => ws.send(JSON.stringify({allEvents: true}));
        ws.onmessage = (msg) => {
            let ev;
            try { ev = JSON.parse(msg.data); } catch { return; }
            const d = ev.data || {};
            empty.style.display = 'none';
            const row = document.createElement('div');
            row.className = 'event mono';
            const score = d.riskScore ?? 0;
            const bucket = score >= 70 ? 'high' : score >= 50 ? 'medium' : 'low';
            row.innerHTML =
                '<span class="type"></span>' +
                '<span class="score ' + bucket + '"></span>' +
                '<span class="user"></span>';
            row.children[0].textContent = d.activityType || ev.type;
            row.children[1].textContent = score;
            row.children[2].textContent = d.userId || 'anonymous';
            feed.insertBefore(row, feed.firstChild.nextSibling);
            while (feed.children.length > 101) feed.removeChild(feed.lastChild);
        };
    </script>
</body>
</html>`

func eventsPageHandler(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(eventsPageHTML))
}
