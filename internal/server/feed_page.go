package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// feedPageCSP relaxes the API policy just enough for the inline page.
const feedPageCSP = "default-src 'none'; script-src 'unsafe-inline'; style-src 'unsafe-inline'; connect-src 'self' ws: wss:; frame-ancestors 'none'"

const feedPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Risk Feed · Sentinel</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --bg: #09090b; --bg-subtle: #18181b; --border: #27272a;
            --text: #fafafa; --text-secondary: #a1a1aa; --text-tertiary: #52525b;
            --approved: #22c55e; --review: #eab308; --stepup: #f97316; --blocked: #ef4444;
        }
        body { font-family: -apple-system, sans-serif; background: var(--bg); color: var(--text); font-size: 14px; }
        .mono { font-family: ui-monospace, monospace; }
        .container { max-width: 880px; margin: 0 auto; padding: 0 24px; }
        header { border-bottom: 1px solid var(--border); padding: 16px 0; position: sticky; top: 0; background: var(--bg); }
        .header-inner { display: flex; justify-content: space-between; align-items: center; }
        .logo { font-weight: 600; font-size: 15px; }
        .filters { display: flex; gap: 8px; }
        .filters label { color: var(--text-secondary); font-size: 12px; display: flex; gap: 4px; align-items: center; }
        .status { font-size: 12px; color: var(--text-tertiary); }
        .row { display: grid; grid-template-columns: 1fr auto; gap: 16px; padding: 16px 0; border-bottom: 1px solid var(--border); }
        .parties { margin-bottom: 6px; }
        .reasons { color: var(--text-secondary); font-size: 12px; line-height: 1.5; }
        .right { text-align: right; }
        .decision { font-weight: 600; }
        .APPROVED { color: var(--approved); } .REVIEW { color: var(--review); }
        .STEP_UP_AUTH { color: var(--stepup); } .BLOCKED { color: var(--blocked); }
        .block { color: var(--text-tertiary); font-size: 12px; padding: 10px 0; border-bottom: 1px dashed var(--border); }
        .empty { text-align: center; padding: 80px 24px; color: var(--text-tertiary); }
    </style>
</head>
<body>
    <header><div class="container header-inner">
        <span class="logo">Sentinel · Risk Feed</span>
        <div class="filters">
            <label><input type="checkbox" value="APPROVED" checked>approved</label>
            <label><input type="checkbox" value="REVIEW" checked>review</label>
            <label><input type="checkbox" value="STEP_UP_AUTH" checked>step-up</label>
            <label><input type="checkbox" value="BLOCKED" checked>blocked</label>
        </div>
        <span class="status" id="status">connecting</span>
    </div></header>
    <main class="container" id="feed"><div class="empty">Waiting for transactions...</div></main>
    <script>
        const feed = document.getElementById('feed');
        const statusEl = document.getElementById('status');
        const esc = s => String(s ?? '').replace(/[&<>"']/g, c => '&#' + c.charCodeAt(0) + ';');
        let ws;

        function subscription() {
            const decisions = [...document.querySelectorAll('.filters input:checked')].map(i => i.value);
            return { decisions };
        }

        function prepend(html) {
            if (feed.querySelector('.empty')) feed.innerHTML = '';
            feed.insertAdjacentHTML('afterbegin', html);
            while (feed.children.length > 200) feed.lastElementChild.remove();
        }

        function renderAssessment(a) {
            return '<div class="row"><div>' +
                '<div class="parties mono">' + esc(a.account) + ' → ' + esc(a.counterparty) + ' · ' + esc(a.amount) + '</div>' +
                '<div class="reasons">' + (a.reasons || []).map(esc).join('<br>') + '</div>' +
                '</div><div class="right">' +
                '<div class="decision ' + esc(a.decision) + '">' + esc(a.decision) + '</div>' +
                '<div class="mono">' + Number(a.score).toFixed(3) + ' · ' + esc(a.strategy) + '</div>' +
                '</div></div>';
        }

        function renderBlock(b) {
            return '<div class="block mono">block #' + esc(b.height) + ' sealed · ' + esc(b.strategy) +
                ' · ' + esc(b.transactionCount) + ' tx · ' + esc(String(b.merkleRoot).slice(0, 16)) + '…</div>';
        }

        function operatorKey() {
            const fromHash = new URLSearchParams(location.hash.slice(1)).get('key');
            const key = fromHash || sessionStorage.getItem('sentinel.key') || prompt('Operator API key') || '';
            sessionStorage.setItem('sentinel.key', key);
            return key;
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(proto + location.host + '/ws?api_key=' + encodeURIComponent(operatorKey()));
            ws.onopen = () => { statusEl.textContent = 'live'; ws.send(JSON.stringify(subscription())); };
            ws.onclose = () => { statusEl.textContent = 'reconnecting'; setTimeout(connect, 2000); };
            ws.onmessage = msg => {
                const ev = JSON.parse(msg.data);
                if (ev.type === 'assessment') prepend(renderAssessment(ev.data));
                if (ev.type === 'block_sealed') prepend(renderBlock(ev.data));
            };
        }

        document.querySelectorAll('.filters input').forEach(i => i.addEventListener('change', () => {
            if (ws && ws.readyState === WebSocket.OPEN) ws.send(JSON.stringify(subscription()));
        }));
        connect();
    </script>
</body>
</html>`

func feedPageHandler(c *gin.Context) {
	c.Header("Content-Security-Policy", feedPageCSP)
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, feedPageHTML)
}
