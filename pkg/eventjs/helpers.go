package eventjs

const helpersJS = `
(function(){
  function parseJSON(text) {
    try { return JSON.parse(text); } catch (e) { return null; }
  }

  function field(obj, path) {
    if (!obj || typeof path !== "string" || path === "") return null;
    const parts = path.split(".");
    let cur = obj;
    for (const p of parts) {
      if (cur == null) return null;
      cur = cur[p];
    }
    return (cur === undefined) ? null : cur;
  }

  function isTerminal(type) {
    return type === "run.completed" || type === "run.failed";
  }

  function isStageEvent(type) {
    return typeof type === "string" &&
      (type.indexOf("stage.") === 0 || type.indexOf("refinement.") === 0);
  }

  globalThis.pw = {
    parseJSON,
    field,
    isTerminal,
    isStageEvent,
  };
})();
`
