package browser

// DefaultUserAgent replaces the HeadlessChrome token a stock launch reports.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// stealthScript only hides the obvious automation properties. It runs before
// any page script on every new document.
const stealthScript = `(() => {
	try {
		Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	} catch (e) {}
	try {
		if (!window.chrome) { window.chrome = { runtime: {} }; }
	} catch (e) {}
	try {
		Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
	} catch (e) {}
})()`

// actionableScript reports whether an element takes pointer input.
const actionableScript = `(el) => {
	if (!el || !el.isConnected) return false;
	const st = window.getComputedStyle(el);
	return st.pointerEvents !== 'none';
}`

const visibleScript = `(el) => {
	if (!el || !el.isConnected) return false;
	const st = window.getComputedStyle(el);
	if (st.display === 'none' || st.visibility === 'hidden' || Number(st.opacity) === 0) return false;
	const r = el.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
}`

const enabledScript = `(el) => !!el && !el.disabled && el.getAttribute('aria-disabled') !== 'true'`

const textScript = `(el) => (el.innerText || el.textContent || '')`

const scriptedClickScript = `(el) => {
	el.scrollIntoView({ block: 'center', inline: 'center' });
	el.click();
	return true;
}`

// ActionableScript is exported for engines that need the pointer-events check
// through Element.Eval.
func ActionableScript() string { return actionableScript }

// ScriptedClickScript dispatches a click from page script, bypassing overlay
// interception and off-screen positioning.
func ScriptedClickScript() string { return scriptedClickScript }
