package server

// adminPage is the single-file admin console. It logs in against /login and
// drives the /api endpoints with fetch calls; no build step, no assets.
const adminPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>aistudio2api console</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 760px; padding: 0 1rem; background: #0f1115; color: #d8dee9; }
h1 { font-size: 1.3rem; }
section { background: #171a21; border-radius: 8px; padding: 1rem 1.25rem; margin-bottom: 1rem; }
button { background: #3b6ea5; color: #fff; border: 0; border-radius: 4px; padding: .45rem .9rem; margin: .15rem; cursor: pointer; }
button:hover { background: #4d84c4; }
input { background: #0f1115; color: #d8dee9; border: 1px solid #2e3440; border-radius: 4px; padding: .45rem; }
pre { background: #0b0d10; padding: .75rem; border-radius: 6px; overflow-x: auto; max-height: 300px; font-size: .8rem; }
.bad { color: #bf616a; } .good { color: #a3be8c; }
</style>
</head>
<body>
<h1>aistudio2api console</h1>

<section id="loginBox">
  <input id="password" type="password" placeholder="API key">
  <button onclick="login()">Sign in</button>
  <span id="loginMsg" class="bad"></span>
</section>

<section id="panel" style="display:none">
  <div id="summary"></div>
  <p>
    <button onclick="post('/api/switch-account', {})">Switch account</button>
    <button onclick="setMode('real')">Real streaming</button>
    <button onclick="setMode('fake')">Fake streaming</button>
    <button onclick="post('/api/toggle-reasoning')">Toggle reasoning</button>
    <button onclick="post('/api/toggle-native-reasoning')">Toggle native reasoning</button>
    <button onclick="post('/api/toggle-redirect-25-30')">Toggle 2.5&rarr;3.0 redirect</button>
  </p>
  <h3>Recent logs</h3>
  <pre id="logs"></pre>
</section>

<script>
async function login() {
  const res = await fetch('/login', {method: 'POST', headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({password: document.getElementById('password').value})});
  if (res.ok) { refresh(); } else { document.getElementById('loginMsg').textContent = 'invalid key'; }
}
async function post(path, body) {
  await fetch(path, {method: 'POST', headers: {'Content-Type': 'application/json'},
    body: body === undefined ? null : JSON.stringify(body)});
  refresh();
}
function setMode(mode) { post('/api/set-mode', {mode}); }
async function refresh() {
  const res = await fetch('/api/status');
  if (!res.ok) return;
  const s = await res.json();
  document.getElementById('loginBox').style.display = 'none';
  document.getElementById('panel').style.display = '';
  const conn = s.browserConnected ? '<span class="good">connected</span>' : '<span class="bad">disconnected</span>';
  document.getElementById('summary').innerHTML =
    'Browser: ' + conn +
    ' &middot; account #' + s.currentAuthIndex +
    ' &middot; usage ' + s.usage +
    ' &middot; failures ' + s.failures +
    ' &middot; mode ' + s.settings.streamingMode +
    ' &middot; active ' + s.activeRequests;
  document.getElementById('logs').textContent = (s.recentLogs || []).join('\n');
}
refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>
`
